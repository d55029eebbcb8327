package gate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"inspection-gateway/middleware/ratelimit/domain"
	"inspection-gateway/middleware/validate"
)

// RateDecider admits or rejects a client key. *ratelimit.Guard implements it.
type RateDecider interface {
	Decide(key string) domain.Decision
}

// Evaluate runs the stages in order against the current policy and returns
// the first rejection, or an Allow carrying the risk score.
func (g *Gate) Evaluate(ctx context.Context, snap *Snapshot) Decision {
	return g.evaluate(ctx, g.policy.Load(), snap)
}

func (g *Gate) evaluate(ctx context.Context, pol *Policy, snap *Snapshot) Decision {
	if d, stop := checkContext(ctx); stop {
		return d
	}
	if d, stop := checkSize(pol, snap); stop {
		return d
	}
	if d, stop := checkRate(g.rate, snap); stop {
		return d
	}
	if d, stop := checkContext(ctx); stop {
		return d
	}
	if d, stop := checkSchema(pol, snap); stop {
		return d
	}
	return checkScore(pol, snap)
}

// Inspect runs only the stateless stages (size, schema, score) against p.
// It backs dry runs and never touches a rate limiter.
func (p *Policy) Inspect(snap *Snapshot) Decision {
	if d, stop := checkSize(p, snap); stop {
		return d
	}
	if d, stop := checkSchema(p, snap); stop {
		return d
	}
	return checkScore(p, snap)
}

func checkContext(ctx context.Context) (Decision, bool) {
	if err := ctx.Err(); err != nil {
		return reject(StatusClientClosedRequest, "", StageClient, err.Error()), true
	}
	return Decision{}, false
}

func checkSize(pol *Policy, snap *Snapshot) (Decision, bool) {
	if int64(len(snap.Body)) > pol.MaxBodyBytes {
		return reject(http.StatusRequestEntityTooLarge, DetailPayloadTooLarge, StageSize,
			fmt.Sprintf("body exceeds %d bytes", pol.MaxBodyBytes)), true
	}
	return Decision{}, false
}

func checkRate(rate RateDecider, snap *Snapshot) (Decision, bool) {
	if rate == nil {
		return Decision{}, false
	}
	dec := rate.Decide(snap.ClientID)
	if dec.Allowed {
		return Decision{}, false
	}
	d := reject(http.StatusTooManyRequests, DetailTooManyRequests, StageRate, "rate limit exceeded")
	d.RetryAfter = dec.RetryAfter
	return d, true
}

func checkSchema(pol *Policy, snap *Snapshot) (Decision, bool) {
	schema, ok := pol.Validators.Lookup(snap.Method, snap.Path)
	if !ok {
		return Decision{}, false
	}
	res := schema.Validate(snap.Body)
	switch res.Outcome {
	case validate.Invalid:
		return reject(http.StatusUnprocessableEntity, DetailInvalidInput, StageValidate, res.Reason), true
	case validate.Malformed:
		return reject(http.StatusBadRequest, DetailMalformed, StageValidate, res.Reason), true
	}
	return Decision{}, false
}

func checkScore(pol *Policy, snap *Snapshot) Decision {
	score := pol.Scorer.Score(snap.Body)
	if score >= pol.BlockThreshold {
		return Decision{
			Kind:   Block,
			Status: http.StatusForbidden,
			Detail: DetailBlocked,
			Stage:  StageScore,
			Reason: scoreReason(pol, snap.Body, score),
			Score:  score,
		}
	}
	return Decision{Kind: Allow, Stage: StageScore, Score: score}
}

func scoreReason(pol *Policy, body []byte, score int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "score %d >= %d", score, pol.BlockThreshold)
	if hits := pol.Scorer.Hits(body); len(hits) > 0 {
		b.WriteString("; keywords: ")
		b.WriteString(strings.Join(hits, ","))
	}
	return b.String()
}
