// Package app wires configuration into a running gateway: limiter, audit
// sinks, policy, forwarder, gate, proxy listener and admin listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"inspection-gateway/internal/admin"
	"inspection-gateway/internal/breaker"
	"inspection-gateway/internal/config"
	"inspection-gateway/internal/metrics"
	"inspection-gateway/internal/rcu"
	"inspection-gateway/internal/reload"
	"inspection-gateway/middleware/audit"
	"inspection-gateway/middleware/gate"
	"inspection-gateway/middleware/ratelimit"
	"inspection-gateway/middleware/ratelimit/domain"
	"inspection-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNoConfigFile = errors.New("app: no config file to reload from")

type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter domain.Limiter
	gate    *gate.Gate
	audit   audit.Sink
	stats   *infra.MemoryStatsStore
	rdb     *redis.Client
	handler http.Handler
	admin   http.Handler
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New()}

	if cfg.Redis.Addr != "" && (cfg.HasSink(config.SinkRedis) || cfg.Stats.Redis) {
		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
	}

	policy, err := BuildPolicy(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.limiter, err = buildLimiter(cfg.RateLimit); err != nil {
		a.Close()
		return nil, err
	}
	guard, err := buildGuard(cfg.RateLimit, a.limiter)
	if err != nil {
		a.Close()
		return nil, err
	}

	var rdb redis.Cmdable
	if a.rdb != nil {
		rdb = a.rdb
	}
	if a.audit, err = buildAudit(cfg, rdb, a.metrics, logger); err != nil {
		a.Close()
		return nil, err
	}
	var stats domain.StatsStore
	var redisStats *infra.RedisStatsStore
	a.stats, redisStats, stats = buildStats(cfg, rdb)

	fopts := gate.ForwarderOptions{Timeout: cfg.Backend.Timeout, Logger: logger.Named("proxy")}
	if cfg.Backend.Breaker.Enabled {
		br, err := breaker.New(breaker.Options{
			Resource:       "backend",
			ErrorThreshold: cfg.Backend.Breaker.ErrorThreshold,
			MinRequests:    cfg.Backend.Breaker.MinRequests,
			StatInterval:   cfg.Backend.Breaker.StatInterval,
			RetryTimeout:   cfg.Backend.Breaker.RetryTimeout,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		fopts.Breaker = br
	}
	fwd, err := gate.NewForwarder(cfg.Backend.URL, fopts)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.gate, err = gate.New(gate.Options{
		Policy:   rcu.NewSnapshot(policy),
		Guard:    guard,
		Upstream: fwd,
		Audit:    a.audit,
		Stats:    stats,
		Observer: a.metrics,
		Logger:   logger.Named("gate"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	conc := ratelimit.NewConcurrencyLimiter(ratelimit.ConcurrencyOptions{
		Max:            cfg.Limits.ConcurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.Limits.ConcurrencyTimeout,
		OnReject:       a.concurrencyRejected,
	})
	if conc.Enabled() {
		a.metrics.RegisterInFlight(conc.InFlight)
	}
	a.handler = conc.Middleware(a.gate)

	adminOpts := admin.Options{
		Metrics: a.metrics.Handler(),
		Stats:   a.stats,
		Reload:  a.Reload,
		Info: map[string]any{
			"backend":   cfg.Backend.URL,
			"algorithm": cfg.RateLimit.Algorithm,
		},
		Logger: logger.Named("admin"),
	}
	if redisStats != nil && cfg.Stats.TrackKeys {
		adminOpts.Risk = redisStats
	}
	adm := admin.New(adminOpts)
	// operators get their own small per-client budget on the admin listener
	adminLimiter := infra.NewTokenBucketStore(20, time.Second)
	a.admin = ratelimit.Middleware(ratelimit.Options{Limiter: adminLimiter})(adm.Router())

	return a, nil
}

func (a *App) concurrencyRejected(r *http.Request, err error) {
	if !errors.Is(err, domain.ErrSaturated) {
		a.metrics.ObserveDecision(gate.Reject.String(), gate.StatusClientClosedRequest)
		return
	}
	a.metrics.ObserveDecision(gate.Reject.String(), http.StatusServiceUnavailable)
	a.logger.Warn("request refused",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", http.StatusServiceUnavailable),
		zap.String("stage", "concurrency"),
		zap.Error(err),
	)
}

// Handler is the proxied surface.
func (a *App) Handler() http.Handler { return a.handler }

// AdminHandler is the operator surface.
func (a *App) AdminHandler() http.Handler { return a.admin }

func (a *App) Gate() *gate.Gate { return a.gate }

// Reload re-reads the config file and swaps the policy. Listener, backend
// and limiter settings are only picked up on restart.
func (a *App) Reload() error {
	if a.cfg.Path == "" {
		return ErrNoConfigFile
	}
	next, err := config.Load(a.cfg.Path)
	if err != nil {
		a.metrics.Reload(false)
		return err
	}
	pol, err := BuildPolicy(next)
	if err == nil {
		err = a.gate.SetPolicy(pol)
	}
	if err != nil {
		a.metrics.Reload(false)
		return fmt.Errorf("app: reload: %w", err)
	}
	a.metrics.Reload(true)

	if next.Backend != a.cfg.Backend || next.RateLimit.Enabled != a.cfg.RateLimit.Enabled ||
		next.RateLimit.Limit != a.cfg.RateLimit.Limit || next.RateLimit.Window != a.cfg.RateLimit.Window ||
		next.Server != a.cfg.Server {
		a.logger.Warn("backend, server and rate limit changes need a restart to take effect")
	}
	a.logger.Info("policy reloaded",
		zap.Int64("max_body_bytes", pol.MaxBodyBytes),
		zap.Int("block_threshold", pol.BlockThreshold),
		zap.Int("validated_routes", pol.Validators.Len()),
	)
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if j, ok := a.limiter.(janitor); ok {
		j.StartJanitor(ctx)
	}

	srv := a.newServer(a.cfg.Server.ListenAddr, a.handler)
	servers := []*http.Server{srv}
	if a.cfg.Server.AdminAddr != "" {
		servers = append(servers, a.newServer(a.cfg.Server.AdminAddr, a.admin))
	}

	if a.cfg.Reload.Watch && a.cfg.Path != "" {
		w, err := reload.New(a.cfg.Path, a.Reload, a.logger.Named("reload"))
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				a.logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
				return
			}
			errCh <- nil
		}(s)
	}

	a.logger.Info("gateway listening",
		zap.String("addr", a.cfg.Server.ListenAddr),
		zap.String("admin", a.cfg.Server.AdminAddr),
		zap.String("backend", a.cfg.Backend.URL),
		zap.Duration("forward_timeout", a.cfg.Backend.Timeout),
		zap.Int64("max_body_bytes", a.cfg.Limits.MaxBodyBytes),
		zap.Bool("rate_enabled", a.cfg.RateLimit.Enabled),
		zap.Int("rate_limit", a.cfg.RateLimit.Limit),
		zap.Duration("rate_window", a.cfg.RateLimit.Window),
		zap.String("rate_algorithm", a.cfg.RateLimit.Algorithm),
		zap.Int("block_threshold", a.cfg.Anomaly.BlockThreshold),
		zap.Strings("audit_sinks", a.cfg.Audit.Sinks),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer stop()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}
	a.Close()
	return runErr
}

func (a *App) newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(a.logger.Named("http")),
	}
}

// Close flushes the audit sinks and releases Redis. Safe to call twice.
func (a *App) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("audit close", zap.Error(err))
		}
		a.audit = nil
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
}
