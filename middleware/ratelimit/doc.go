// Package ratelimit fornece adapters HTTP (net/http) para rate limit por
// cliente e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela deslizante, token bucket), semáforo, stats
//   - ratelimit (este pacote): extração de chave, Guard e middlewares HTTP
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header, X-Forwarded-For confiável, endereço do peer)
//  2. Chama a camada application para obter a decisão
//  3. Se bloqueado, responde 429 com Retry-After (503 para concorrência)
//  4. Se permitido, passa a requisição para a próxima etapa
package ratelimit
