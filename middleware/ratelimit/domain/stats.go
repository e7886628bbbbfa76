package domain

import (
	"context"
	"time"
)

// StatsEvent é uma decisão do limiter, gravada depois do Check.
// Key e Path têm cardinalidade alta: os stores só guardam por chave quando pedido.
type StatsEvent struct {
	Key     Key
	Policy  string
	Allowed bool

	Method string
	Path   string

	At time.Time
}

type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters soma admitidas e rejeitadas.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) Add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

func (c Counters) Total() int64 { return c.Allowed + c.Denied }

// SumCounters junta os contadores de todas as políticas.
func SumCounters(byPolicy map[string]Counters) Counters {
	var out Counters
	for _, c := range byPolicy {
		out.Allowed += c.Allowed
		out.Denied += c.Denied
	}
	return out
}

// StatsReader é implementado pelos stores que conseguem ler de volta o que gravaram.
type StatsReader interface {
	Totals(ctx context.Context) (Counters, error)
	ByPolicy(ctx context.Context) (map[string]Counters, error)
}
