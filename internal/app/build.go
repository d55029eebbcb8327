package app

import (
	"context"
	"fmt"
	"time"

	"inspection-gateway/internal/config"
	"inspection-gateway/internal/metrics"
	"inspection-gateway/middleware/anomaly"
	"inspection-gateway/middleware/audit"
	"inspection-gateway/middleware/gate"
	"inspection-gateway/middleware/ratelimit"
	"inspection-gateway/middleware/ratelimit/domain"
	"inspection-gateway/middleware/ratelimit/infra"
	"inspection-gateway/middleware/validate"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BuildPolicy compiles the hot-reloadable part of cfg.
func BuildPolicy(cfg *config.Config) (*gate.Policy, error) {
	scorer, err := anomaly.New(cfg.AnomalyRules())
	if err != nil {
		return nil, err
	}
	reg, err := validate.NewRegistry(cfg.Validation)
	if err != nil {
		return nil, err
	}
	p := &gate.Policy{
		MaxBodyBytes:   cfg.Limits.MaxBodyBytes,
		Scorer:         scorer,
		BlockThreshold: cfg.Anomaly.BlockThreshold,
		Validators:     reg,
	}
	return p, p.Validate()
}

// janitor is implemented by limiters that evict idle keys in the background.
type janitor interface {
	StartJanitor(ctx infra.DoneContext)
}

func buildLimiter(cfg config.RateLimitCfg) (domain.Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Algorithm {
	case config.AlgorithmTokenBucket:
		return infra.NewTokenBucketStore(cfg.Limit, cfg.Window, infra.WithIdleTTL(cfg.IdleTTL)), nil
	default:
		s, err := infra.NewSlidingWindowStore(cfg.Limit, cfg.Window)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func buildGuard(cfg config.RateLimitCfg, lim domain.Limiter) (*ratelimit.Guard, error) {
	proxies, err := ratelimit.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewGuard(ratelimit.Options{
		Limiter: lim,
		KeyFn: ratelimit.NewKeyFunc(ratelimit.KeyOptions{
			Header:             cfg.KeyHeader,
			TrustXForwardedFor: cfg.TrustXFF,
			TrustedProxies:     proxies,
		}),
		RetryAfter:          cfg.RetryAfter,
		AddRateLimitHeaders: cfg.AddHeaders,
	}), nil
}

func connectRedis(ctx context.Context, cfg config.RedisCfg) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func buildAudit(cfg *config.Config, rdb redis.Cmdable, m *metrics.Metrics, logger *zap.Logger) (audit.Sink, error) {
	var sinks audit.Multi
	for _, name := range cfg.Audit.Sinks {
		switch name {
		case config.SinkFile:
			s, err := audit.NewFileSink(audit.FileOptions{
				Path:       cfg.Audit.File.Path,
				MaxSizeMB:  cfg.Audit.File.MaxSizeMB,
				MaxBackups: cfg.Audit.File.MaxBackups,
				MaxAgeDays: cfg.Audit.File.MaxAgeDays,
				Compress:   cfg.Audit.File.Compress,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case config.SinkRedis:
			s, err := audit.NewRedisStreamSink(rdb, audit.RedisStreamOptions{
				Stream:  cfg.Audit.Stream.Name,
				MaxLen:  cfg.Audit.Stream.MaxLen,
				Timeout: cfg.Audit.Stream.Timeout,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		}
	}

	var sink audit.Sink
	switch len(sinks) {
	case 0:
		return audit.Nop{}, nil
	case 1:
		sink = sinks[0]
	default:
		sink = sinks
	}
	if !cfg.Audit.Async {
		return sink, nil
	}
	async := audit.NewAsyncSink(sink, audit.AsyncOptions{Buffer: cfg.Audit.Buffer, Logger: logger})
	m.RegisterAuditDropped(async.Dropped)
	return async, nil
}

func buildStats(cfg *config.Config, rdb redis.Cmdable) (*infra.MemoryStatsStore, *infra.RedisStatsStore, domain.StatsStore) {
	mem := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.Stats.TrackKeys))
	if !cfg.Stats.Redis || rdb == nil {
		return mem, nil, mem
	}
	r := infra.NewRedisStatsStore(rdb,
		infra.WithStatsPrefix(cfg.Stats.Prefix),
		infra.WithStatsTTL(cfg.Stats.TTL),
		infra.WithStatsBucket(cfg.Stats.Bucket),
		infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
	)
	return mem, r, infra.MultiStats{mem, r}
}
