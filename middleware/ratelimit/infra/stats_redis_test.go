package infra

import (
	"context"
	"testing"
	"time"

	"inspection-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStatsStore_KeyLayout(t *testing.T) {
	s := NewRedisStatsStore(nil, WithStatsPrefix(":edge:stats:"))
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	assert.Equal(t, "edge:stats:total", s.TotalKey())
	assert.Equal(t, "edge:stats:route", s.RouteKey())
	assert.Equal(t, "edge:stats:risk", s.RiskKey())
	assert.Equal(t, "edge:stats:minute:202603040506", s.MinuteKey(at))
	assert.Equal(t, "edge:stats:client:10.0.0.1", s.ClientKey("10.0.0.1"))

	// prefixo vazio mantém o padrão
	assert.Equal(t, "gateway:stats:total", NewRedisStatsStore(nil, WithStatsPrefix("")).TotalKey())
}

func TestRedisStatsStore_NilClientIsNoop(t *testing.T) {
	s := NewRedisStatsStore(nil)
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{Allowed: true}))

	var nilStore *RedisStatsStore
	assert.NoError(t, nilStore.Record(context.Background(), domain.StatsEvent{}))
}

func TestRedisStatsStore_UnreachableReturnsError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	s := NewRedisStatsStore(rdb, WithStatsTrackKeys(true))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Record(ctx, domain.StatsEvent{Key: "c", Outcome: "block", Stage: "score", Status: 403, Score: 80})
	require.Error(t, err)

	_, err = s.TopRisk(ctx, 5)
	assert.Error(t, err)
}

func TestStatsEvent_OutcomeOrDefault(t *testing.T) {
	assert.Equal(t, "allow", domain.StatsEvent{Allowed: true}.OutcomeOrDefault())
	assert.Equal(t, "reject", domain.StatsEvent{}.OutcomeOrDefault())
	assert.Equal(t, "block", domain.StatsEvent{Outcome: "block"}.OutcomeOrDefault())
}
