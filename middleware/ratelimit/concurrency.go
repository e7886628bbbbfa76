package ratelimit

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	// Max <= 0 desliga o limite.
	Max            int
	AcquireTimeout time.Duration
	RejectStatus   int
	// RetryAfter sugerido ao cliente recusado (padrão 1s).
	RetryAfter time.Duration
	Logger     *zap.Logger
}

// ConcurrencyMiddleware segura quantas requests ficam em andamento ao mesmo
// tempo atrás dele. Quem não acha vaga dentro de AcquireTimeout recebe
// RejectStatus (503 por padrão) com Retry-After.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.ConcurrencyService{
		Pool:    infra.NewSlotPool(opts.Max),
		MaxWait: opts.AcquireTimeout,
	}
	retrySecs := int(math.Ceil(opts.RetryAfter.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slot, err := svc.Acquire(r.Context())
			switch {
			case errors.Is(err, application.ErrNoSlot):
				opts.Logger.Debug("concurrency limit reached",
					zap.String("path", r.URL.Path), zap.Int("max", opts.Max))
				w.Header().Set(HeaderRetryAfter, strconv.Itoa(retrySecs))
				writeJSON(w, opts.RejectStatus, Rejection{
					Error:      "Server busy",
					Message:    "Too many requests in progress, try again shortly.",
					RetryAfter: retrySecs,
				})
				return
			case err != nil:
				// cliente desistiu enquanto esperava
				return
			}
			defer slot.Release()

			if slot.Waited > 0 {
				opts.Logger.Debug("waited for concurrency slot",
					zap.String("path", r.URL.Path), zap.Duration("waited", slot.Waited))
			}
			next.ServeHTTP(w, r)
		})
	}
}
