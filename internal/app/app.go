// Package app wires configuration, storage, sessions and the HTTP handler
// into one graph shared by the server, the CLI and the Lambda entry point.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"harborguide/handler"
	"harborguide/internal/config"
	"harborguide/internal/fallback"
	"harborguide/internal/integrations/backend"
	"harborguide/internal/integrations/paramstore"
	"harborguide/internal/repository"
	"harborguide/internal/session"
	"harborguide/internal/usecase"
)

const redisPingTimeout = 5 * time.Second

// App is the assembled service.
type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Store    repository.TranscriptStore
	Sessions *session.Manager
	Resolver *usecase.Resolver
	Chat     *usecase.Chat
	Handler  *handler.Handler
}

// AWS loads the default AWS configuration once, on first use, so that
// deployments without Parameter Store or DynamoDB never touch it.
type AWS struct {
	once sync.Once
	cfg  aws.Config
	err  error
	load func(ctx context.Context) (aws.Config, error)
}

func NewAWS() *AWS {
	return &AWS{load: func(ctx context.Context) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	}}
}

func (a *AWS) Config(ctx context.Context) (aws.Config, error) {
	a.once.Do(func() {
		a.cfg, a.err = a.load(ctx)
		if a.err != nil {
			a.err = errors.Wrap(a.err, "app: load aws config")
		}
	})
	return a.cfg, a.err
}

// Lookup resolves a Parameter Store value, loading AWS configuration on the
// first call.
func (a *AWS) Lookup(ctx context.Context, name string) (string, bool, error) {
	cfg, err := a.Config(ctx)
	if err != nil {
		return "", false, err
	}
	client, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return "", false, err
	}
	return client.Lookup(ctx, name)
}

// LoadConfig layers the config file, Parameter Store, the environment and
// overrides, then validates the result.
func LoadConfig(ctx context.Context, path string, o config.Overrides, awsCfg *AWS, logger zerolog.Logger) (config.Config, error) {
	opts := []config.LoadOption{config.WithFile(path), config.WithLogger(logger)}
	if awsCfg != nil {
		opts = append(opts, config.WithParams(awsCfg))
	}
	cfg, err := config.Load(ctx, opts...)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Apply(o)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// New assembles the service from cfg.
func New(ctx context.Context, cfg config.Config, awsCfg *AWS, logger zerolog.Logger) (*App, error) {
	store, err := NewStore(ctx, cfg.Store, session.TranscriptTTL(cfg.SessionIdleTimeout), awsCfg)
	if err != nil {
		return nil, err
	}

	fb := fallback.NewSource(cfg.KPIDefaultsPath, cfg.MockAnswerPath, logger)
	resolver, err := usecase.NewResolver(backend.NewClient(), fb, cfg.BackendURL,
		usecase.WithTimeouts(usecase.Timeouts{
			Health: cfg.Timeouts.Health,
			KPIs:   cfg.Timeouts.KPIs,
			Embed:  cfg.Timeouts.Embed,
			Ask:    cfg.Timeouts.Ask,
		}),
		usecase.WithKPITTL(cfg.KPICacheTTL),
		usecase.WithHealthMaxAge(cfg.HealthMaxAge),
		usecase.WithLogger(logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	chat, err := usecase.NewChat(resolver, store, cfg.IncludeKPIs, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sessions := session.NewManager(store,
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithSecureCookie(cfg.SecureCookie),
		session.WithLogger(logger),
	)
	h, err := handler.NewHandler(chat, sessions, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Sessions: sessions,
		Resolver: resolver,
		Chat:     chat,
		Handler:  h,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// NewStore builds the transcript store named by s.Driver. Transcripts
// expire after ttl unless written or touched again.
func NewStore(ctx context.Context, s config.Store, ttl time.Duration, awsCfg *AWS) (repository.TranscriptStore, error) {
	opts := []repository.Option{}
	if ttl > 0 {
		opts = append(opts, repository.WithTTL(ttl))
	}
	if s.MaxTurns > 0 {
		opts = append(opts, repository.WithMaxTurns(s.MaxTurns))
	}

	switch repository.Driver(s.Driver) {
	case repository.DriverMemory, "":
		return repository.NewStore(repository.DriverMemory, opts...)
	case repository.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrapf(err, "app: ping redis %s", s.RedisAddr)
		}
		return repository.NewStore(repository.DriverRedis, append(opts, repository.WithRedisClient(client))...)
	case repository.DriverDynamoDB:
		if awsCfg == nil {
			return nil, errors.New("app: dynamodb driver needs aws configuration")
		}
		cfg, err := awsCfg.Config(ctx)
		if err != nil {
			return nil, err
		}
		return repository.NewStore(repository.DriverDynamoDB,
			append(opts, repository.WithDynamoDB(awsdynamodb.NewFromConfig(cfg), s.DynamoTable))...)
	default:
		return nil, errors.Wrapf(repository.ErrInvalidDriver, "%q", s.Driver)
	}
}
