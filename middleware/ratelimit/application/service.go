package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Counter domain.WindowCounter
	// FailOpen deixa passar quando o backend (ex: Redis) falha.
	// Config inválida nunca passa, independente de FailOpen.
	FailOpen bool
	Clock    func() time.Time
}

func (s Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Check conta uma requisição para key sob cfg.
//
// Rejeição não é erro: volta em Decision.Success=false com RetryAfter preenchido.
// Erro só aparece em config/chave inválida ou falha de backend sem FailOpen.
func (s Service) Check(ctx context.Context, key domain.Key, cfg domain.Config) (domain.Decision, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Decision{}, err
	}
	if key == "" {
		return domain.Decision{}, domain.ErrEmptyKey
	}
	if s.Counter == nil {
		return domain.Decision{Result: domain.Result{Success: true, Limit: cfg.Limit, Remaining: cfg.Limit}}, nil
	}

	res, err := s.Counter.Hit(ctx, key, cfg)
	if err != nil {
		if s.FailOpen && !isCallerError(err) {
			return domain.Decision{Result: domain.Result{
				Success:   true,
				Limit:     cfg.Limit,
				Remaining: cfg.Limit,
				ResetTime: s.now().Add(cfg.Window),
			}}, nil
		}
		return domain.Decision{}, fmt.Errorf("rate limit check %q: %w", key, err)
	}

	dec := domain.Decision{Result: res}
	if !res.Success {
		dec.RetryAfter = time.Duration(domain.RetryAfter(res, s.now())) * time.Second
	}
	return dec, nil
}

func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrInvalidConfig) || errors.Is(err, domain.ErrEmptyKey)
}
