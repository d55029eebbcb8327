package ratelimit

import (
	"net/http"
	"time"

	"inspection-gateway/middleware/ratelimit/application"
	"inspection-gateway/middleware/ratelimit/domain"
)

type Options struct {
	Limiter             domain.Limiter
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	Now                 func() time.Time
}

// Guard é a metade HTTP do rate limit: resolve a chave do cliente, pede a
// decisão para a camada application e escreve os headers correspondentes.
// O gate usa como uma etapa; Middleware embrulha como handler avulso.
type Guard struct {
	svc     application.Service
	keyFn   KeyFunc
	limiter domain.Limiter
	headers bool
	now     func() time.Time
}

func NewGuard(opts Options) *Guard {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Guard{
		svc:     application.Service{Limiter: opts.Limiter, RetryAfter: opts.RetryAfter},
		keyFn:   opts.KeyFn,
		limiter: opts.Limiter,
		headers: opts.AddRateLimitHeaders,
		now:     opts.Now,
	}
}

func (g *Guard) Key(r *http.Request) string { return g.keyFn(r) }

// Enabled informa se existe algum limiter configurado.
func (g *Guard) Enabled() bool { return g.limiter != nil }

func (g *Guard) Decide(key string) domain.Decision {
	return g.svc.Decide(domain.Key(key), g.now())
}

// WriteHeaders define Retry-After quando bloqueia e, se habilitado, os
// headers informativos X-RateLimit-*.
func (g *Guard) WriteHeaders(h http.Header, key string, dec domain.Decision) {
	if g.headers {
		h.Set("X-RateLimit-Key", key)
		if wl, ok := g.limiter.(domain.Windowed); ok {
			h.Set("X-RateLimit-Limit", formatInt(wl.Limit()))
			h.Set("X-RateLimit-Window", formatFloat(wl.Window().Seconds()))
		}
	}
	if !dec.Allowed {
		h.Set("Retry-After", formatInt(retryAfterSeconds(dec.RetryAfter)))
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	g := NewGuard(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := g.Key(r)
			dec := g.Decide(key)
			g.WriteHeaders(w.Header(), key, dec)

			status := http.StatusOK
			if !dec.Allowed {
				status = opts.RejectStatus
			}
			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Allowed: dec.Allowed,
					Stage:   "rate",
					Status:  status,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      g.now(),
				})
			}
			if !dec.Allowed {
				writeDetail(w, opts.RejectStatus, "Too Many Requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
