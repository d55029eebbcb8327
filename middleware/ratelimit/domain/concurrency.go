package domain

import (
	"context"
	"errors"
)

// ErrSaturated indica que todas as vagas ficaram ocupadas durante todo o
// timeout de aquisição.
var ErrSaturated = errors.New("ratelimit: concurrency limit reached")

// SlotPool representa um recurso com capacidade finita (ex: requisições
// sendo inspecionadas e encaminhadas ao mesmo tempo).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// O release retornado é idempotente.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	InUse() int
	Cap() int
}
