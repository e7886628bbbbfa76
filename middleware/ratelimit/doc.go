// Package ratelimit liga o limiter de janela fixa ao net/http.
//
// Camadas:
//
//   - domain: tipos, políticas e a regra da janela
//   - application: Service.Check e ConcurrencyService, sem net/http
//   - infra: store em memória, Redis, semáforo e estatísticas
//   - ratelimit (este pacote): Middleware, funções de chave e a resposta 429
//
// Por request o Middleware monta "<política>:<chave do cliente>", pede a
// decisão e, se bloqueado, responde 429 com X-RateLimit-*, Retry-After e
// corpo JSON. Handlers que preferem checar por conta própria usam
// application.Service.Check e WriteRejection.
package ratelimit
