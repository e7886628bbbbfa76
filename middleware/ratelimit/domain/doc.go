// Package domain tem os tipos do limiter de janela fixa: Config, Entry, Result,
// as políticas nomeadas e a regra Apply. Sem net/http e sem I/O.
package domain
