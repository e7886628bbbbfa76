// utilitário pequeno para formatação consistente de valores numéricos em headers.
// Evita fmt só para converter inteiros.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatMillis formata um instante como milissegundos desde a época (X-RateLimit-Reset).
func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
