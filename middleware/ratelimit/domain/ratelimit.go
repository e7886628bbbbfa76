package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
	ErrEmptyKey      = errors.New("empty rate limit key")
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
)

// Key identifica quem está sendo limitado.
// Convenção: "<feature>:<userIdOuIp>", para separar os limites por funcionalidade.
type Key string

// Config é a política de uma janela fixa: no máximo Limit requisições a cada Window.
type Config struct {
	Limit  int           `mapstructure:"limit" yaml:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be > 0, got %d: %w", c.Limit, ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be > 0, got %s: %w", c.Window, ErrInvalidConfig)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%d/%s", c.Limit, c.Window)
}

// Entry é o estado de uma chave dentro da janela corrente.
// Count conta requisições aceitas e rejeitadas.
type Entry struct {
	Count     int
	ResetTime time.Time
}

// Expired informa se a janela já terminou em now (now > ResetTime).
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ResetTime)
}

// Result é o retorno de uma verificação.
// Rejeição não é erro: Success=false é um valor normal que o chamador transforma em 429.
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// WindowCounter conta uma requisição para a chave e decide se ela passa.
//
// A implementação pode ser local (map em memória) ou compartilhada (Redis);
// a semântica de janela fixa é a mesma.
type WindowCounter interface {
	Hit(ctx context.Context, key Key, cfg Config) (Result, error)
}

// Apply aplica uma requisição sobre o estado atual de uma chave e devolve
// o novo estado e o resultado. ok=false indica chave inexistente.
//
// É a regra da janela fixa isolada do armazenamento; quem chama garante a
// exclusão mútua entre leitura e escrita.
func Apply(cur Entry, ok bool, cfg Config, now time.Time) (Entry, Result) {
	if !ok || cur.Expired(now) {
		next := Entry{Count: 1, ResetTime: now.Add(cfg.Window)}
		return next, Result{Success: true, Limit: cfg.Limit, Remaining: cfg.Limit - 1, ResetTime: next.ResetTime}
	}

	cur.Count++
	if cur.Count > cfg.Limit {
		return cur, Result{Success: false, Limit: cfg.Limit, Remaining: 0, ResetTime: cur.ResetTime}
	}
	return cur, Result{Success: true, Limit: cfg.Limit, Remaining: cfg.Limit - cur.Count, ResetTime: cur.ResetTime}
}

type Decision struct {
	Result
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// RetryAfter devolve os segundos (arredondados para cima) até o fim da janela.
// Nunca é negativo.
func RetryAfter(res Result, now time.Time) int {
	d := res.ResetTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
