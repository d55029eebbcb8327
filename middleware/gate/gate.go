// Package gate is the request pipeline every inbound request passes through:
// size, rate, schema and anomaly checks in that order, one audit record per
// request, then either a JSON rejection or a verbatim relay from the backend.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"inspection-gateway/internal/rcu"
	"inspection-gateway/middleware/audit"
	"inspection-gateway/middleware/ratelimit"
	"inspection-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Upstream relays an allowed request. *Forwarder implements it.
type Upstream interface {
	Forward(w http.ResponseWriter, r *http.Request, body []byte) (int, error)
}

// Observer receives decision metrics. *metrics.Metrics implements it.
type Observer interface {
	ObserveDecision(outcome string, status int)
	ObserveScore(score int)
	UpstreamError()
}

type Options struct {
	Policy   *rcu.Snapshot[Policy]
	Guard    *ratelimit.Guard
	Upstream Upstream
	Audit    audit.Sink
	Stats    domain.StatsStore
	Observer Observer
	Logger   *zap.Logger
	Now      func() time.Time
}

type Gate struct {
	policy   *rcu.Snapshot[Policy]
	guard    *ratelimit.Guard
	rate     RateDecider
	upstream Upstream
	audit    audit.Sink
	stats    domain.StatsStore
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

func New(opts Options) (*Gate, error) {
	if opts.Policy == nil {
		return nil, errors.New("gate: policy is required")
	}
	if err := opts.Policy.Load().Validate(); err != nil {
		return nil, err
	}
	if opts.Upstream == nil {
		return nil, errors.New("gate: upstream is required")
	}
	if opts.Guard == nil {
		opts.Guard = ratelimit.NewGuard(ratelimit.Options{})
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Gate{
		policy:   opts.Policy,
		guard:    opts.Guard,
		upstream: opts.Upstream,
		audit:    opts.Audit,
		stats:    opts.Stats,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if opts.Guard.Enabled() {
		g.rate = opts.Guard
	}
	return g, nil
}

// SetPolicy publishes a new policy for subsequent requests. In-flight
// requests finish with the policy they started with.
func (g *Gate) SetPolicy(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g.policy.Replace(p)
	return nil
}

func (g *Gate) Policy() *Policy { return g.policy.Load() }

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pol := g.policy.Load()
	snap := &Snapshot{
		ClientID: g.guard.Key(r),
		Method:   r.Method,
		Path:     r.URL.Path,
		Arrived:  g.now(),
	}

	var dec Decision
	body, err := io.ReadAll(io.LimitReader(r.Body, pol.MaxBodyBytes+1))
	snap.Body = body
	if err != nil {
		dec = reject(http.StatusBadRequest, DetailMalformed, StageRead, fmt.Sprintf("read body: %v", err))
	} else {
		dec = g.evaluate(r.Context(), pol, snap)
	}

	recordID := audit.NewID()
	risk := riskScore(pol, snap, dec)
	g.emit(r.Context(), recordID, snap, dec, risk)
	if dec.Stage == StageScore {
		g.observer.ObserveScore(dec.Score)
	}

	status, outcome := dec.Status, dec.AuditOutcome()
	aborted := false
	switch {
	case dec.Forward():
		status, err = g.upstream.Forward(w, r, body)
		switch {
		case errors.Is(err, ErrClientGone):
			g.logger.Debug("client went away", zap.String("id", recordID), zap.String("client", snap.ClientID), zap.String("stage", StageForward))
			outcome = audit.OutcomeReject
			g.observer.ObserveDecision(Reject.String(), status)
		case err != nil:
			aborted = errors.Is(err, http.ErrAbortHandler)
			g.observer.UpstreamError()
			g.logger.Error("upstream error",
				zap.String("id", recordID),
				zap.String("client", snap.ClientID),
				zap.String("method", snap.Method),
				zap.String("path", snap.Path),
				zap.Int("status", status),
				zap.Bool("aborted", aborted),
				zap.Error(err),
			)
			outcome = audit.OutcomeError
			g.observer.ObserveDecision(string(outcome), status)
		default:
			g.observer.ObserveDecision(dec.Kind.String(), status)
		}
	case dec.Status == StatusClientClosedRequest:
		g.logger.Debug("client went away", zap.String("id", recordID), zap.String("client", snap.ClientID))
		g.observer.ObserveDecision(dec.Kind.String(), status)
	default:
		g.logger.Warn("request refused",
			zap.String("id", recordID),
			zap.String("client", snap.ClientID),
			zap.String("method", snap.Method),
			zap.String("path", snap.Path),
			zap.Int("status", dec.Status),
			zap.String("stage", dec.Stage),
			zap.String("reason", dec.Reason),
			zap.Int("score", risk),
		)
		if dec.Stage == StageRate {
			g.guard.WriteHeaders(w.Header(), snap.ClientID, domain.Decision{RetryAfter: dec.RetryAfter})
		}
		writeDetail(w, dec.Status, dec.Detail)
		g.observer.ObserveDecision(dec.Kind.String(), status)
	}

	g.recordStats(r.Context(), snap, dec, status, outcome, risk)
	if aborted {
		// the response is already half sent; only dropping the connection
		// tells the client it is incomplete
		panic(http.ErrAbortHandler)
	}
}

// riskScore is the anomaly score recorded for the request. Requests turned
// away before scoring are scored here so the audit trail still ranks them.
func riskScore(pol *Policy, snap *Snapshot, dec Decision) int {
	if dec.Stage == StageScore || len(snap.Body) == 0 {
		return dec.Score
	}
	return pol.Scorer.Score(snap.Body)
}

// emit writes the audit record. Sink failures are logged and never change
// the decision.
func (g *Gate) emit(ctx context.Context, id string, snap *Snapshot, dec Decision, risk int) {
	rec := audit.Record{
		ID:        id,
		Timestamp: snap.Arrived,
		ClientID:  snap.ClientID,
		Method:    snap.Method,
		Path:      snap.Path,
		RiskScore: risk,
		Body:      string(snap.Body),
		Outcome:   dec.AuditOutcome(),
		Status:    dec.Status,
		Reason:    dec.Reason,
		Stage:     dec.Stage,
	}
	if err := g.audit.Write(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Warn("audit write failed", zap.String("id", id), zap.Error(err))
	}
}

func (g *Gate) recordStats(ctx context.Context, snap *Snapshot, dec Decision, status int, outcome audit.Outcome, risk int) {
	if g.stats == nil {
		return
	}
	err := g.stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
		Key:     domain.Key(snap.ClientID),
		Allowed: dec.Forward() && outcome == audit.OutcomeAllow,
		Outcome: string(outcome),
		Stage:   dec.Stage,
		Status:  status,
		Score:   risk,
		Method:  snap.Method,
		Path:    snap.Path,
		At:      snap.Arrived,
	})
	if err != nil {
		g.logger.Debug("stats record failed", zap.Error(err))
	}
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(string, int) {}
func (nopObserver) ObserveScore(int)            {}
func (nopObserver) UpstreamError()              {}
