package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"inspection-gateway/middleware/ratelimit/application"
	"inspection-gateway/middleware/ratelimit/domain"
	"inspection-gateway/middleware/ratelimit/infra"
)

// ConcurrencyOptions limita as requisições em andamento. Max <= 0 desliga o limite.
type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// OnReject é chamado para toda requisição recusada: err é
	// domain.ErrSaturated, ou o erro do contexto quando o cliente desistiu
	// na fila (nesse caso nada é respondido).
	OnReject func(r *http.Request, err error)
}

// ConcurrencyLimiter limita quantas requisições estão dentro do gateway ao mesmo tempo.
type ConcurrencyLimiter struct {
	svc  application.ConcurrencyService
	opts ConcurrencyOptions
}

func NewConcurrencyLimiter(opts ConcurrencyOptions) *ConcurrencyLimiter {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	l := &ConcurrencyLimiter{opts: opts}
	if opts.Max > 0 {
		l.svc = application.ConcurrencyService{
			Pool:           infra.NewChanPool(opts.Max),
			AcquireTimeout: opts.AcquireTimeout,
		}
	}
	return l
}

func (l *ConcurrencyLimiter) Enabled() bool { return l.svc.Pool != nil }

func (l *ConcurrencyLimiter) InFlight() int { return l.svc.InFlight() }

func (l *ConcurrencyLimiter) Middleware(next http.Handler) http.Handler {
	if !l.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, err := l.svc.Acquire(r.Context())
		if err != nil {
			if l.opts.OnReject != nil {
				l.opts.OnReject(r, err)
			}
			if errors.Is(err, domain.ErrSaturated) {
				writeDetail(w, l.opts.RejectStatus, "Too many concurrent requests")
			}
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	return NewConcurrencyLimiter(opts).Middleware
}
