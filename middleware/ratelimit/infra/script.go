package infra

// fixedWindowLua conta o hit num hash {count, reset} e, no primeiro hit da
// janela, grava o reset (epoch ms) e a expiração. Os hits seguintes devolvem
// o reset gravado, então todos enxergam o mesmo fim de janela.
//
// KEYS[1] = chave da janela
// ARGV[1] = tamanho da janela em ms
// ARGV[2] = reset em epoch ms caso esta chamada abra a janela
//
// Retorna { count, reset_ms }.
const fixedWindowLua = `
local count = redis.call("HINCRBY", KEYS[1], "count", 1)
local reset = redis.call("HGET", KEYS[1], "reset")
if count == 1 or not reset then
  redis.call("HSET", KEYS[1], "reset", ARGV[2])
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  reset = ARGV[2]
elseif redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return { count, reset }
`
