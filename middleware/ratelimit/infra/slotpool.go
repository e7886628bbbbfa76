package infra

import (
	"context"
	"sync"
	"sync/atomic"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/sync/semaphore"
)

// SlotPool limita chamadas simultâneas a serviços caros (inferência, TTS)
// com um semáforo. Quem espera é atendido em ordem de chegada.
type SlotPool struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

var _ domain.SlotPool = (*SlotPool)(nil)

func NewSlotPool(size int) *SlotPool {
	return &SlotPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	p.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.inFlight.Add(-1)
			p.sem.Release(1)
		})
	}, true
}

func (p *SlotPool) InFlight() int { return int(p.inFlight.Load()) }

func (p *SlotPool) Size() int { return p.size }
