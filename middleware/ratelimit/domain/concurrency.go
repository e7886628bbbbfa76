package domain

import "context"

// SlotPool segura quantas requests usam um recurso caro ao mesmo tempo.
// Acquire espera vaga até o ctx acabar; o release devolvido pode ser chamado
// mais de uma vez sem liberar vaga extra.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	InFlight() int
}
