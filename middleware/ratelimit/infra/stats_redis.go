package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inspection-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega no Redis as decisões de todas as instâncias do gateway:
//
//	<prefix>:total              hash  outcome:<o>, status:<code>, stage:<s>
//	<prefix>:minute:<yyyymmddhhmm> hash  outcome:<o> (expira após ttl)
//	<prefix>:route              hash  "<METHOD> <path>:<o>"
//	<prefix>:client:<key>       hash  outcome:<o> (trackKeys, expira)
//	<prefix>:risk               zset  cliente -> soma do score de anomalia (trackKeys)
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix    string
	ttl       time.Duration
	bucket    string // "minute" (padrão) ou "none"
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "gateway:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) TotalKey() string { return s.prefix + ":total" }
func (s *RedisStatsStore) RouteKey() string { return s.prefix + ":route" }
func (s *RedisStatsStore) RiskKey() string  { return s.prefix + ":risk" }

func (s *RedisStatsStore) MinuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func (s *RedisStatsStore) ClientKey(k domain.Key) string {
	return s.prefix + ":client:" + string(k)
}

// Record enfileira todos os incrementos de ev num único round trip de pipeline.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	outcome := "outcome:" + ev.OutcomeOrDefault()

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.TotalKey(), outcome, 1)
	if ev.Status != 0 {
		pipe.HIncrBy(ctx, s.TotalKey(), "status:"+strconv.Itoa(ev.Status), 1)
	}
	if !ev.Allowed && ev.Stage != "" {
		pipe.HIncrBy(ctx, s.TotalKey(), "stage:"+ev.Stage, 1)
	}

	if s.bucket == "minute" {
		s.incrExpiring(ctx, pipe, s.MinuteKey(at), outcome)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.RouteKey(), route+":"+ev.OutcomeOrDefault(), 1)
	}

	if k := domain.Key(strings.TrimSpace(string(ev.Key))); s.trackKeys && k != "" {
		s.incrExpiring(ctx, pipe, s.ClientKey(k), outcome)
		if ev.Score > 0 {
			pipe.ZIncrBy(ctx, s.RiskKey(), float64(ev.Score), string(k))
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) incrExpiring(ctx context.Context, pipe redis.Pipeliner, key, field string) {
	pipe.HIncrBy(ctx, key, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

// TopRisk retorna até n clientes com a maior soma de score de anomalia.
func (s *RedisStatsStore) TopRisk(ctx context.Context, n int64) ([]redis.Z, error) {
	return s.rdb.ZRevRangeWithScores(ctx, s.RiskKey(), 0, n-1).Result()
}
