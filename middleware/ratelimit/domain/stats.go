package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão final do gate vista pelos stores de stats.
// Outcome é allow, block, reject ou error; Stage nomeia a etapa que decidiu.
// Score é o score de anomalia do corpo, calculado mesmo quando a requisição
// foi recusada antes da etapa de score.
//
// Method/Path são valores crus da requisição, então rastreá-los por cliente
// no Redis pode crescer sem limite.
type StatsEvent struct {
	Key     Key
	Allowed bool
	Outcome string
	Stage   string
	Status  int
	Score   int

	Method string
	Path   string

	At time.Time
}

// OutcomeOrDefault cai para allow/reject a partir de Allowed, para produtores
// que só conhecem a admissão.
func (ev StatsEvent) OutcomeOrDefault() string {
	switch {
	case ev.Outcome != "":
		return ev.Outcome
	case ev.Allowed:
		return "allow"
	default:
		return "reject"
	}
}

// StatsStore persiste contadores de decisão. Quem chama trata erros como best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
