// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - SlidingWindowStore: janela deslizante de timestamps admitidos por cliente
//   - TokenBucketStore: token bucket por chave usando golang.org/x/time/rate
//   - MemoryStatsStore / RedisStatsStore: contadores de decisão
//   - ChanPool: semáforo simples para limite de concorrência
package infra
