package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Store é uma implementação de infra baseada em janela fixa, em memória,
// com uma entrada por chave e limpeza periódica.
//
// O limite vale por processo: N instâncias do servidor somam N vezes o limite.
// Para limite global use RedisStore, que tem o mesmo contrato.
type Store struct {
	mu         sync.Mutex
	entries    map[string]domain.Entry
	now        func() time.Time
	sweepEvery time.Duration
}

var _ domain.WindowCounter = (*Store)(nil)

type StoreOption func(*Store)

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithSweepEvery define o intervalo do janitor. <= 0 desliga a varredura periódica.
func WithSweepEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.sweepEvery = d }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:    make(map[string]domain.Entry),
		now:        time.Now,
		sweepEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SweepEvery() time.Duration { return s.sweepEvery }

// Hit implementa domain.WindowCounter.
//
// Leitura, comparação e escrita acontecem sob o mesmo lock, então requisições
// concorrentes para a mesma chave nunca são subcontadas.
func (s *Store) Hit(_ context.Context, key domain.Key, cfg domain.Config) (domain.Result, error) {
	if key == "" {
		return domain.Result{}, domain.ErrEmptyKey
	}
	if err := cfg.Validate(); err != nil {
		return domain.Result{}, fmt.Errorf("memory store: %w", err)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[string(key)]
	next, res := domain.Apply(cur, ok, cfg, now)
	s.entries[string(key)] = next
	return res, nil
}

// Peek devolve o estado atual de uma chave sem contar requisição.
func (s *Store) Peek(key domain.Key) (domain.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[string(key)]
	return ent, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep remove as entradas cuja janela já terminou (now > ResetTime)
// e devolve quantas foram removidas.
// Só limita memória: Hit reinicia uma entrada vencida por conta própria.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.Expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que varre chaves vencidas periodicamente.
// Pare cancelando o contexto. onSweep (opcional) recebe quantas entradas saíram.
func (s *Store) StartJanitor(ctx context.Context, onSweep func(removed int)) {
	if s.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n := s.Sweep()
				if onSweep != nil {
					onSweep(n)
				}
			}
		}
	}()
}
