package application

import (
	"time"

	"inspection-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Limiter    domain.Limiter
	RetryAfter time.Duration
}

func (s Service) Decide(key domain.Key, now time.Time) domain.Decision {
	if s.Limiter == nil {
		return domain.Decision{Allowed: true}
	}
	if s.Limiter.Admit(key, now) {
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{Allowed: false, RetryAfter: s.retryAfter()}
}

// retryAfter usa a janela do limiter quando existe, senão 1s.
func (s Service) retryAfter() time.Duration {
	if s.RetryAfter > 0 {
		return s.RetryAfter
	}
	if w, ok := s.Limiter.(domain.Windowed); ok && w.Window() > 0 {
		return w.Window()
	}
	return 1 * time.Second
}
