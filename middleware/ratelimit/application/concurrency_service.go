package application

import (
	"context"
	"time"

	"inspection-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP. Distingue pool saturado de chamador que desistiu.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//   - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
//   - Se `AcquireTimeout > 0`, espera até o timeout.
//
// O erro é domain.ErrSaturated quando o timeout expira e ctx.Err() quando o
// contexto do chamador termina antes. Pool nil nunca bloqueia.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	if release, ok := s.Pool.Acquire(acqCtx); ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, domain.ErrSaturated
}

// InFlight retorna as vagas ocupadas no momento.
func (s ConcurrencyService) InFlight() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InUse()
}
