package domain

import "time"

// Key identifica a partição contra a qual a requisição é contada (normalmente
// o endereço de origem do cliente).
type Key string

// Limiter admite ou rejeita uma requisição de uma chave no instante now.
//
// Observação: a implementação é dona do estado por chave e deve serializar
// atualizações da mesma chave; chaves diferentes podem rodar em paralelo.
type Limiter interface {
	Admit(key Key, now time.Time) bool
}

// Windowed é implementado por limiters que contam sobre uma janela passada.
type Windowed interface {
	Limit() int
	Window() time.Duration
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
