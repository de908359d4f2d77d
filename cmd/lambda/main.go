package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"harborguide/internal/app"
	"harborguide/internal/config"
)

func main() {
	ctx := context.Background()

	bootLogger, _ := app.NewLogger(os.Stderr, "info", "json")
	awsCfg := app.NewAWS()
	cfg, err := app.LoadConfig(ctx, os.Getenv("HARBORGUIDE_CONFIG"), config.Overrides{}, awsCfg, bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger, err := app.NewLogger(os.Stderr, cfg.LogLevel, "json")
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to create logger")
	}

	a, err := app.New(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build service")
	}

	lambda.Start(a.Handler.Handle)
}
