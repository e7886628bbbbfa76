package application

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

var ErrNoSlot = errors.New("no concurrency slot available")

// ConcurrencyService decide se uma chamada cara entra agora, espera vaga
// ou é recusada. Não conhece HTTP.
type ConcurrencyService struct {
	Pool domain.SlotPool
	// MaxWait <= 0 espera enquanto o ctx do chamador viver.
	MaxWait time.Duration
	Clock   func() time.Time
}

// Slot é uma vaga ocupada. Release pode ser chamado mais de uma vez.
type Slot struct {
	release func()
	Waited  time.Duration
}

func (s Slot) Release() {
	if s.release != nil {
		s.release()
	}
}

func (s ConcurrencyService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Acquire devolve ErrNoSlot quando MaxWait estoura, ou o erro do ctx
// quando o próprio chamador desistiu.
func (s ConcurrencyService) Acquire(ctx context.Context) (Slot, error) {
	if s.Pool == nil {
		return Slot{}, nil
	}

	waitCtx := ctx
	if s.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.MaxWait)
		defer cancel()
	}

	start := s.now()
	release, ok := s.Pool.Acquire(waitCtx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return Slot{}, err
		}
		return Slot{}, ErrNoSlot
	}
	return Slot{release: release, Waited: s.now().Sub(start)}, nil
}
