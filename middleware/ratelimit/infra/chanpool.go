package infra

import (
	"context"
	"sync"

	"inspection-gateway/middleware/ratelimit/domain"
)

// chanPool é um semáforo simples baseado em channel; len(sem) é o total em andamento.
type chanPool struct {
	sem chan struct{}
}

func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	// vaga livre vence um ctx já expirado
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	default:
	}
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) releaser() func() {
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }
}

func (p *chanPool) InUse() int { return len(p.sem) }
func (p *chanPool) Cap() int   { return cap(p.sem) }
