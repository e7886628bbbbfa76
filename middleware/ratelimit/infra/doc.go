// Package infra implementa os contratos de domain.
//
// Janelas: Store (memória, com janitor) e RedisStore (script Lua, vale para
// várias réplicas). Concorrência: SlotPool sobre golang.org/x/sync/semaphore.
// Estatísticas: MemoryStatsStore, RedisStatsStore e SQLStatsStore (SQLite ou Postgres).
package infra
