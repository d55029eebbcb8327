package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"inspection-gateway/internal/rcu"
	"inspection-gateway/middleware/anomaly"
	"inspection-gateway/middleware/audit"
	"inspection-gateway/middleware/ratelimit"
	"inspection-gateway/middleware/ratelimit/infra"
	"inspection-gateway/middleware/validate"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureSink) Write(_ context.Context, rec audit.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) all() []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Record(nil), c.records...)
}

func (c *captureSink) last() audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[len(c.records)-1]
}

type countingObserver struct {
	mu        sync.Mutex
	decisions map[string]int
	scores    []int
	upstream  int
}

func (o *countingObserver) ObserveDecision(outcome string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.decisions == nil {
		o.decisions = map[string]int{}
	}
	o.decisions[outcome]++
}

func (o *countingObserver) ObserveScore(s int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scores = append(o.scores, s)
}

func (o *countingObserver) UpstreamError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.upstream++
}

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	scorer, err := anomaly.New(anomaly.DefaultRules())
	require.NoError(t, err)
	reg, err := validate.NewRegistry([]validate.RouteSchema{validate.LoginSchema()})
	require.NoError(t, err)
	return &Policy{MaxBodyBytes: 2048, Scorer: scorer, BlockThreshold: 70, Validators: reg}
}

type fixture struct {
	gate     *Gate
	sink     *captureSink
	observer *countingObserver
	stats    *infra.MemoryStatsStore
	logs     *observer.ObservedLogs
	now      time.Time
}

func newFixture(t *testing.T, backend string, limit int, fopts ForwarderOptions) *fixture {
	t.Helper()
	if fopts.Timeout == 0 {
		fopts.Timeout = 2 * time.Second
	}
	fwd, err := NewForwarder(backend, fopts)
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		logs:     logs,
		sink:     &captureSink{},
		observer: &countingObserver{},
		stats:    infra.NewMemoryStatsStore(),
		now:      time.Unix(1_700_000_000, 0),
	}

	var guard *ratelimit.Guard
	if limit > 0 {
		lim, err := infra.NewSlidingWindowStore(limit, time.Minute)
		require.NoError(t, err)
		guard = ratelimit.NewGuard(ratelimit.Options{Limiter: lim, Now: func() time.Time { return f.now }})
	}

	g, err := New(Options{
		Policy:   rcu.NewSnapshot(testPolicy(t)),
		Guard:    guard,
		Upstream: fwd,
		Audit:    f.sink,
		Stats:    f.stats,
		Observer: f.observer,
		Logger:   zap.New(core),
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.gate = g
	return f
}
