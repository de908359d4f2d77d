// Package config assembles runtime settings from built-in defaults, an
// optional YAML file, Parameter Store and environment variables, in that
// order of increasing precedence. Command-line flags are applied last by
// the caller through Overrides.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"harborguide/internal/integrations/backend"
)

const DefaultBackendURL = "http://localhost:5300"

type Timeouts struct {
	Health time.Duration `yaml:"health"`
	KPIs   time.Duration `yaml:"kpis"`
	Embed  time.Duration `yaml:"embed"`
	Ask    time.Duration `yaml:"ask"`
}

type Store struct {
	Driver        string `yaml:"driver"`
	MaxTurns      int    `yaml:"max_turns"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	DynamoTable   string `yaml:"dynamodb_table"`
}

type Config struct {
	BackendURL      string `yaml:"backend_url"`
	BackendURLParam string `yaml:"backend_url_param"`

	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Timeouts     Timeouts      `yaml:"timeouts"`
	KPICacheTTL  time.Duration `yaml:"kpi_cache_ttl"`
	HealthMaxAge time.Duration `yaml:"health_max_age"`
	IncludeKPIs  bool          `yaml:"include_kpis_in_ask"`

	KPIDefaultsPath string `yaml:"kpi_defaults_path"`
	MockAnswerPath  string `yaml:"mock_answer_path"`

	Store Store `yaml:"store"`

	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	SecureCookie       bool          `yaml:"secure_cookie"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BackendURL:      DefaultBackendURL,
		ListenAddr:      ":8501",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Timeouts: Timeouts{
			Health: 5 * time.Second,
			KPIs:   10 * time.Second,
			Embed:  20 * time.Second,
			Ask:    60 * time.Second,
		},
		KPICacheTTL:        30 * time.Second,
		HealthMaxAge:       30 * time.Second,
		KPIDefaultsPath:    "data/kpis_default.json",
		MockAnswerPath:     "data/mock_answer.json",
		Store:              Store{Driver: "memory", MaxTurns: 200},
		SessionIdleTimeout: 12 * time.Hour,
		LogLevel:           "info",
		LogFormat:          "auto",
	}
}

type loadOptions struct {
	path   string
	params Looker
	logger zerolog.Logger
}

// Looker resolves an optional Parameter Store value.
type Looker interface {
	Lookup(ctx context.Context, name string) (string, bool, error)
}

type LoadOption func(*loadOptions)

// WithFile reads path as YAML. An empty path is skipped.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) { o.path = strings.TrimSpace(path) }
}

// WithParams resolves BackendURLParam through params.
func WithParams(params Looker) LoadOption {
	return func(o *loadOptions) { o.params = params }
}

func WithLogger(l zerolog.Logger) LoadOption {
	return func(o *loadOptions) { o.logger = l }
}

// Load builds the Config. A named file that cannot be read or parsed is an
// error; a Parameter Store failure is logged and the lower layers win.
func Load(ctx context.Context, opts ...LoadOption) (Config, error) {
	o := loadOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := Default()

	if o.path != "" {
		raw, err := os.ReadFile(o.path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "config: read %s", o.path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", o.path)
		}
	}

	cfg.BackendURLParam = envString("HARBORGUIDE_BACKEND_URL_PARAM", cfg.BackendURLParam)
	if cfg.BackendURLParam != "" && o.params != nil {
		v, ok, err := o.params.Lookup(ctx, cfg.BackendURLParam)
		switch {
		case err != nil:
			o.logger.Warn().Err(err).Str("param", cfg.BackendURLParam).Msg("backend url parameter unavailable")
		case ok && v != "":
			cfg.BackendURL = v
		}
	}

	cfg.applyEnv()
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BackendURL = envString("BACKEND_URL", c.BackendURL)
	c.BackendURL = envString("HARBORGUIDE_BACKEND_URL", c.BackendURL)
	c.ListenAddr = envString("HARBORGUIDE_LISTEN_ADDR", c.ListenAddr)
	c.ShutdownTimeout = envDuration("HARBORGUIDE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Timeouts.Health = envDuration("HARBORGUIDE_HEALTH_TIMEOUT", c.Timeouts.Health)
	c.Timeouts.KPIs = envDuration("HARBORGUIDE_KPIS_TIMEOUT", c.Timeouts.KPIs)
	c.Timeouts.Embed = envDuration("HARBORGUIDE_EMBED_TIMEOUT", c.Timeouts.Embed)
	c.Timeouts.Ask = envDuration("HARBORGUIDE_ASK_TIMEOUT", c.Timeouts.Ask)
	c.KPICacheTTL = envDuration("HARBORGUIDE_KPI_CACHE_TTL", c.KPICacheTTL)
	c.IncludeKPIs = envBool("HARBORGUIDE_INCLUDE_KPIS", c.IncludeKPIs)

	c.KPIDefaultsPath = envString("HARBORGUIDE_KPI_DEFAULTS", c.KPIDefaultsPath)
	c.MockAnswerPath = envString("HARBORGUIDE_MOCK_ANSWERS", c.MockAnswerPath)

	c.Store.Driver = envString("HARBORGUIDE_STORE_DRIVER", c.Store.Driver)
	c.Store.MaxTurns = envInt("HARBORGUIDE_MAX_TURNS", c.Store.MaxTurns)
	c.Store.RedisAddr = envString("HARBORGUIDE_REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = envString("HARBORGUIDE_REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = envInt("HARBORGUIDE_REDIS_DB", c.Store.RedisDB)
	c.Store.DynamoTable = envString("HARBORGUIDE_DYNAMODB_TABLE", c.Store.DynamoTable)

	c.SessionIdleTimeout = envDuration("HARBORGUIDE_SESSION_IDLE_TIMEOUT", c.SessionIdleTimeout)
	c.SecureCookie = envBool("HARBORGUIDE_SECURE_COOKIE", c.SecureCookie)

	c.LogLevel = envString("HARBORGUIDE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envString("HARBORGUIDE_LOG_FORMAT", c.LogFormat)
}

// Overrides are command-line values; nil fields leave the Config as is.
type Overrides struct {
	BackendURL  *string
	ListenAddr  *string
	StoreDriver *string
	LogLevel    *string
}

// Apply layers o over c.
func (c *Config) Apply(o Overrides) {
	if o.BackendURL != nil {
		c.BackendURL = strings.TrimRight(strings.TrimSpace(*o.BackendURL), "/")
	}
	if o.ListenAddr != nil {
		c.ListenAddr = *o.ListenAddr
	}
	if o.StoreDriver != nil {
		c.Store.Driver = *o.StoreDriver
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
}

// Validate reports settings that would make the service unusable.
func (c Config) Validate() error {
	if _, err := backend.EndpointURL(c.BackendURL, ""); err != nil {
		return errors.Wrap(err, "config: backend_url")
	}
	switch c.Store.Driver {
	case "memory", "":
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("config: store.redis_addr is required for the redis driver")
		}
	case "dynamodb":
		if c.Store.DynamoTable == "" {
			return errors.New("config: store.dynamodb_table is required for the dynamodb driver")
		}
	default:
		return errors.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "config: log_level")
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envDuration accepts Go durations ("45s") or whole seconds ("45").
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
