package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"harborguide/internal/domain"
)

// DefaultMaxTurns bounds every transcript; the oldest exchanges go first.
const DefaultMaxTurns = 200

const defaultTTL = 12 * time.Hour

var (
	ErrInvalidConfig = errors.New("repository: invalid configuration")
	ErrInvalidDriver = errors.New("repository: invalid driver")
	ErrInvalidTurn   = errors.New("repository: invalid turn")
)

// TranscriptStore keeps the ordered, role-tagged turns of one session.
type TranscriptStore interface {
	// Append adds turns at the end of the transcript as one atomic group.
	Append(ctx context.Context, sessionID string, turns ...domain.ChatTurn) error
	// List returns the transcript oldest first. Unknown sessions are empty.
	List(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
	// Clear atomically empties the transcript.
	Clear(ctx context.Context, sessionID string) error
	// Touch restarts the transcript's TTL. Missing transcripts stay missing.
	Touch(ctx context.Context, sessionID string) error
	Close() error
}

// Driver names a TranscriptStore backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverRedis    Driver = "redis"
	DriverDynamoDB Driver = "dynamodb"
)

// Option configures NewStore.
type Option func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	dynamo      dynamodbAPI
	table       string
	ttl         time.Duration
	maxTurns    int
	now         func() time.Time
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithDynamoDB sets the API and table used by the dynamodb driver.
func WithDynamoDB(api dynamodbAPI, table string) Option {
	return func(c *storeConfig) {
		c.dynamo = api
		c.table = table
	}
}

// WithTTL sets how long an idle transcript survives.
func WithTTL(ttl time.Duration) Option {
	return func(c *storeConfig) { c.ttl = ttl }
}

// WithMaxTurns caps the number of retained turns.
func WithMaxTurns(n int) Option {
	return func(c *storeConfig) { c.maxTurns = n }
}

func withClock(now func() time.Time) Option {
	return func(c *storeConfig) { c.now = now }
}

// NewStore builds the TranscriptStore for driver.
func NewStore(driver Driver, opts ...Option) (TranscriptStore, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = defaultTTL
	}
	cfg.maxTurns = evenCap(cfg.maxTurns)
	if cfg.now == nil {
		cfg.now = time.Now
	}

	switch driver {
	case DriverMemory, "":
		return newMemoryStore(cfg), nil
	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, errors.Wrap(ErrInvalidConfig, "redis client required")
		}
		return newRedisStore(cfg), nil
	case DriverDynamoDB:
		if cfg.dynamo == nil || cfg.table == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "dynamodb api and table required")
		}
		return newDynamoStore(cfg), nil
	default:
		return nil, errors.Wrapf(ErrInvalidDriver, "%q", driver)
	}
}

// evenCap keeps the cap a whole number of exchanges.
func evenCap(n int) int {
	if n <= 0 {
		n = DefaultMaxTurns
	}
	if n%2 != 0 {
		n++
	}
	return n
}

func validateTurns(turns []domain.ChatTurn) error {
	for i, t := range turns {
		if !t.Valid() {
			return errors.Wrapf(ErrInvalidTurn, "turn %d role %q", i, t.Role)
		}
	}
	return nil
}

// trimOldest drops leading turns so at most max remain, removing whole
// exchanges when the transcript begins with a user turn.
func trimOldest(turns []domain.ChatTurn, max int) []domain.ChatTurn {
	excess := len(turns) - max
	if excess <= 0 {
		return turns
	}
	if excess%2 != 0 && excess < len(turns) && turns[excess].Role == domain.RoleAssistant {
		excess++
	}
	out := make([]domain.ChatTurn, len(turns)-excess)
	copy(out, turns[excess:])
	return out
}
