// Package application decide admissões sem conhecer HTTP: Service.Check para
// a janela fixa (com fail-open opcional) e ConcurrencyService.Acquire para vagas.
package application
