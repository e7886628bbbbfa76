package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters = domain.Counters

// MemoryStatsStore soma decisões por política e, se ligado, por identificador.
// Vale só para a instância atual; com réplicas use RedisStatsStore.
type MemoryStatsStore struct {
	mu        sync.RWMutex
	policies  map[string]Counters
	keys      map[domain.Key]Counters
	trackKeys bool
}

var (
	_ domain.StatsStore  = (*MemoryStatsStore)(nil)
	_ domain.StatsReader = (*MemoryStatsStore)(nil)
)

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys liga a contagem por identificador. Cresce sem limite: só para depuração.
func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		policies: map[string]Counters{},
		keys:     map[domain.Key]Counters{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.policies[ev.Policy]
	c.Add(ev.Allowed)
	s.policies[ev.Policy] = c

	if s.trackKeys && ev.Key != "" {
		k := s.keys[ev.Key]
		k.Add(ev.Allowed)
		s.keys[ev.Key] = k
	}
	return nil
}

func (s *MemoryStatsStore) Totals(ctx context.Context) (Counters, error) {
	byPolicy, _ := s.ByPolicy(ctx)
	return domain.SumCounters(byPolicy), nil
}

func (s *MemoryStatsStore) ByPolicy(context.Context) (map[string]Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Counters, len(s.policies))
	for name, c := range s.policies {
		out[name] = c
	}
	return out, nil
}

// Key devolve os contadores de um identificador (zero se não rastreado).
func (s *MemoryStatsStore) Key(key domain.Key) Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[key]
}

func (s *MemoryStatsStore) TrackedKeys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
