package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"harborguide/internal/domain"
)

func redisTestStore(t *testing.T, opts ...Option) (TranscriptStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s, err := NewStore(DriverRedis, append([]Option{WithRedisClient(client)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Key(t *testing.T) {
	s := newRedisStore(&storeConfig{})
	require.Equal(t, "transcript:abc", s.key("abc"))
}

func TestRedisStore_AppendListClear(t *testing.T) {
	s, mr := redisTestStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	list, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, s.Append(ctx, "s1", exchange("What changed this week?", "Accuracy dipped.")...))
	require.NoError(t, s.Append(ctx, "s2", exchange("other", "session")...))

	list, err = s.List(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, exchange("What changed this week?", "Accuracy dipped."), list)
	require.Equal(t, time.Minute, mr.TTL("transcript:s1"))

	require.NoError(t, s.Clear(ctx, "s1"))
	require.False(t, mr.Exists("transcript:s1"))
	list, err = s.List(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, list)
	require.NoError(t, s.Clear(ctx, "s1"))

	list, err = s.List(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestRedisStore_TrimsWholeExchanges(t *testing.T) {
	s, mr := redisTestStore(t, WithMaxTurns(3))
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, s.Append(ctx, "s", exchange(q, "a-"+q)...))
	}
	list, err := s.List(ctx, "s")
	require.NoError(t, err)
	// A cap of three rounds up to two exchanges.
	require.Equal(t, append(exchange("q2", "a-q2"), exchange("q3", "a-q3")...), list)

	raw, err := mr.List("transcript:s")
	require.NoError(t, err)
	require.Len(t, raw, 4)
}

func TestRedisStore_TouchAndExpiry(t *testing.T) {
	s, mr := redisTestStore(t, WithTTL(time.Hour))
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s", exchange("q", "a")...))

	mr.FastForward(45 * time.Minute)
	require.NoError(t, s.Touch(ctx, "s"))
	require.Equal(t, time.Hour, mr.TTL("transcript:s"))

	mr.FastForward(45 * time.Minute)
	list, err := s.List(ctx, "s")
	require.NoError(t, err)
	require.Len(t, list, 2)

	mr.FastForward(time.Hour)
	list, err = s.List(ctx, "s")
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, s.Touch(ctx, "s"))
	require.False(t, mr.Exists("transcript:s"))
}

func TestRedisStore_RejectsInvalidTurn(t *testing.T) {
	s, mr := redisTestStore(t)
	err := s.Append(context.Background(), "s", domain.UserTurn("q"), domain.ChatTurn{Role: "system"})
	require.ErrorIs(t, err, ErrInvalidTurn)
	require.False(t, mr.Exists("transcript:s"))
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	s, mr := redisTestStore(t)
	_, err := mr.Push("transcript:s", "not json")
	require.NoError(t, err)

	_, err = s.List(context.Background(), "s")
	require.Error(t, err)
	require.Contains(t, err.Error(), "repository: decode turn")
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := redisTestStore(t)
	mr.Close()
	ctx := context.Background()

	err := s.Append(ctx, "s", exchange("q", "a")...)
	require.Error(t, err)
	require.Contains(t, err.Error(), "repository: redis append")

	_, err = s.List(ctx, "s")
	require.Error(t, err)
	require.Error(t, s.Clear(ctx, "s"))
	require.Error(t, s.Touch(ctx, "s"))
}
