package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"harborguide/internal/app"
	"harborguide/internal/config"
)

type rootFlags struct {
	configPath string
	backendURL string
	logLevel   string
	logFormat  string
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "harborguide",
		Short:         "Port operations dashboard with a conversational insights assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", os.Getenv("HARBORGUIDE_CONFIG"), "path to a YAML config file")
	pf.StringVar(&flags.backendURL, "backend-url", "", "insights backend base URL")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format (auto, json, console)")

	root.AddCommand(
		newServeCmd(flags),
		newAskCmd(flags),
		newKPIsCmd(flags),
		newEmbedCmd(flags),
	)
	return root
}

// overrides returns the flags the user actually set.
func (f *rootFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	if cmd.Flags().Changed("backend-url") {
		o.BackendURL = &f.backendURL
	}
	if cmd.Flags().Changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	return o
}

// build loads the configuration and assembles the service. extra is layered
// after the root flags.
func (f *rootFlags) build(ctx context.Context, cmd *cobra.Command, extra func(*config.Overrides)) (*app.App, error) {
	bootLogger, err := app.NewLogger(os.Stderr, "warn", "auto")
	if err != nil {
		return nil, err
	}
	o := f.overrides(cmd)
	if extra != nil {
		extra(&o)
	}

	awsCfg := app.NewAWS()
	cfg, err := app.LoadConfig(ctx, f.configPath, o, awsCfg, bootLogger)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	logger, err := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("backend_url", cfg.BackendURL).
		Str("store", cfg.Store.Driver).
		Msg("configuration loaded")
	return app.New(ctx, cfg, awsCfg, logger)
}
