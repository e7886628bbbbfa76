package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Rejection é o payload padrão de "too many requests".
type Rejection struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`

	Limit     int       `json:"-"`
	Remaining int       `json:"-"`
	ResetTime time.Time `json:"-"`
}

// NewRejection monta a rejeição para um resultado bloqueado.
// Função pura: só depende de res e now.
func NewRejection(res domain.Result, now time.Time) Rejection {
	return Rejection{
		Error:      "Too many requests",
		Message:    "Please slow down and try again later.",
		RetryAfter: domain.RetryAfter(res, now),
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		ResetTime:  res.ResetTime,
	}
}

// SetHeaders escreve os headers X-RateLimit-* de um resultado (aceito ou não).
func SetHeaders(w http.ResponseWriter, res domain.Result) {
	h := w.Header()
	h.Set(HeaderLimit, formatInt(res.Limit))
	h.Set(HeaderRemaining, formatInt(res.Remaining))
	h.Set(HeaderReset, formatMillis(res.ResetTime))
}

// WriteRejection responde 429 com headers e corpo JSON.
func WriteRejection(w http.ResponseWriter, res domain.Result, now time.Time) {
	rej := NewRejection(res, now)
	SetHeaders(w, res)
	w.Header().Set(HeaderRetryAfter, formatInt(rej.RetryAfter))
	writeJSON(w, http.StatusTooManyRequests, rej)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
