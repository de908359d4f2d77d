package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"harborguide/internal/domain"
)

const transcriptKeyPrefix = "transcript:"

// redisStore keeps one list per session. Appends, trims and TTL refreshes
// run in a single MULTI so readers never see half an exchange.
type redisStore struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

func newRedisStore(cfg *storeConfig) *redisStore {
	return &redisStore{client: cfg.redisClient, ttl: cfg.ttl, maxTurns: cfg.maxTurns}
}

func (s *redisStore) Append(ctx context.Context, sessionID string, turns ...domain.ChatTurn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "repository: encode turn")
		}
		values = append(values, string(b))
	}

	key := s.key(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "repository: redis append")
	}
	return nil
}

func (s *redisStore) List(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	vals, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return []domain.ChatTurn{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "repository: redis list")
	}
	turns := make([]domain.ChatTurn, 0, len(vals))
	for _, v := range vals {
		var t domain.ChatTurn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, errors.Wrap(err, "repository: decode turn")
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *redisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "repository: redis clear")
	}
	return nil
}

func (s *redisStore) Touch(ctx context.Context, sessionID string) error {
	if err := s.client.Expire(ctx, s.key(sessionID), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "repository: redis touch")
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) key(id string) string {
	return transcriptKeyPrefix + id
}
