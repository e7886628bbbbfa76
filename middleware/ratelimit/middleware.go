package ratelimit

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const HeaderPolicy = "X-RateLimit-Policy"

type Options struct {
	Counter  domain.WindowCounter
	FailOpen bool
	Policy   domain.Policy
	Stats    domain.StatsStore

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	AddRateLimitHeaders bool

	Logger *zap.Logger
	// LogEvery limita o log de rejeições a uma linha por intervalo (padrão 10s).
	LogEvery time.Duration
	Clock    func() time.Time
}

// Middleware aplica Options.Policy a cada request que passa pelo handler.
// O identificador contado é "<política>:<chave do cliente>".
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	svc := application.Service{
		Counter:  opts.Counter,
		FailOpen: opts.FailOpen,
		Clock:    opts.Clock,
	}
	log := opts.Logger.With(zap.String("policy", opts.Policy.Name))
	rejectLog := &rate.Sometimes{Interval: opts.LogEvery}
	var suppressed atomic.Int64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := domain.Key(opts.Policy.Name + ":" + opts.KeyFn(r))

			dec, err := svc.Check(r.Context(), key, opts.Policy.Config)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidConfig) || errors.Is(err, domain.ErrEmptyKey) {
					log.Error("rate limit misconfigured", zap.Error(err))
					writeError(w, http.StatusInternalServerError, "rate limiter misconfigured")
					return
				}
				log.Warn("rate limiter unavailable", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     key,
					Policy:  opts.Policy.Name,
					Allowed: dec.Success,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      opts.Clock(),
				}); err != nil {
					log.Debug("rate limit stats record failed", zap.Error(err))
				}
			}

			if !dec.Success {
				suppressed.Add(1)
				rejectLog.Do(func() {
					log.Info("rate limit exceeded",
						zap.String("key", string(key)),
						zap.String("path", r.URL.Path),
						zap.Int("limit", dec.Limit),
						zap.Duration("retry_after", dec.RetryAfter),
						zap.Int64("rejections_since_last_log", suppressed.Swap(0)))
				})
				w.Header().Set(HeaderPolicy, opts.Policy.Name)
				WriteRejection(w, dec.Result, opts.Clock())
				return
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set(HeaderPolicy, opts.Policy.Name)
				SetHeaders(w, dec.Result)
			}

			next.ServeHTTP(w, r)
		})
	}
}
