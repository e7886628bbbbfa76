package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"admission-gateway/internal/config"
	"admission-gateway/internal/observability"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backends agrupa o contador de janelas e o destino das estatísticas,
// com o que precisa ser fechado no shutdown.
type backends struct {
	counter domain.WindowCounter
	stats   domain.StatsStore
	closers []func() error
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

// openBackends escolhe memória ou Redis para as janelas e o destino das
// estatísticas. O janitor do store em memória e a limpeza da tabela SQL
// vivem até ctx ser cancelado.
func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	var rdb redis.UniversalClient
	if cfg.Rate.Backend == config.BackendRedis || cfg.Stats.Backend == config.StatsRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		rdb = client
	}

	switch cfg.Rate.Backend {
	case config.BackendRedis:
		b.counter = infra.NewRedisStore(rdb, infra.WithKeyPrefix(cfg.Redis.Prefix))
	default:
		store := infra.NewStore(infra.WithSweepEvery(cfg.Rate.SweepEvery))
		store.StartJanitor(ctx, func(removed int) {
			if removed > 0 {
				logger.Debug("rate limit sweep", zap.Int("removed", removed), zap.Int("remaining", store.Len()))
			}
		})
		b.counter = store
	}

	switch cfg.Stats.Backend {
	case config.StatsMemory:
		b.stats = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.Stats.TrackKeys))
	case config.StatsRedis:
		b.stats = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		)
	case config.StatsSQLite, config.StatsPostgres:
		dialect := infra.DialectSQLite
		if cfg.Stats.Backend == config.StatsPostgres {
			dialect = infra.DialectPostgres
		}
		s, err := infra.OpenSQLStatsStore(ctx, dialect, cfg.Stats.DSN)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		s.StartPruner(ctx, cfg.Stats.PruneEvery, cfg.Stats.TTL, func(removed int64, err error) {
			if err != nil {
				logger.Warn("rate limit stats prune failed", zap.Error(err))
				return
			}
			if removed > 0 {
				logger.Debug("rate limit stats prune", zap.Int64("removed", removed))
			}
		})
		b.stats = s
	}

	return b, nil
}

func newUpstream(rawURL string, logger *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
	return proxy, nil
}

// newRouter registra cada prefixo de rota com a sua política. chi escolhe
// a rota mais específica, então "/api/chat/*" ganha de "/*".
func newRouter(cfg config.Config, upstream http.Handler, b *backends, logger *zap.Logger) (http.Handler, error) {
	policies, err := cfg.EffectivePolicies()
	if err != nil {
		return nil, err
	}
	routes, err := cfg.EffectiveRoutes()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	if cfg.Rate.TrustXFF {
		r.Use(chimw.RealIP)
	}
	r.Use(observability.RequestID)
	r.Use(observability.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/_ratelimit/policies", func(w http.ResponseWriter, _ *http.Request) {
		rows, err := policyRows(cfg)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})
	if reader, ok := b.stats.(domain.StatsReader); ok {
		r.Get("/_ratelimit/stats", func(w http.ResponseWriter, req *http.Request) {
			byPolicy, err := reader.ByPolicy(req.Context())
			if err != nil {
				logger.Warn("stats read failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats unavailable"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"total":    domain.SumCounters(byPolicy),
				"policies": byPolicy,
			})
		})
	}

	// um pool só para todas as rotas protegidas
	guard := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		AcquireTimeout: cfg.Concurrency.Timeout,
		Logger:         logger,
	})

	keyFn := ratelimit.DefaultKeyFunc(cfg.Rate.KeyHeader, cfg.Rate.TrustXFF)
	if cfg.Rate.JWTSecret != "" {
		keyFn = ratelimit.UserKeyFunc([]byte(cfg.Rate.JWTSecret), keyFn)
	}

	for _, rt := range routes {
		h := upstream
		if cfg.Concurrency.Guarded(rt.Policy) {
			h = guard(h)
		}
		if cfg.Rate.Enabled {
			policy, err := policies.Lookup(rt.Policy)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", rt.Prefix, err)
			}
			h = ratelimit.Middleware(ratelimit.Options{
				Counter:             b.counter,
				FailOpen:            cfg.Rate.FailOpen,
				Policy:              policy,
				Stats:               b.stats,
				KeyFn:               keyFn,
				AddRateLimitHeaders: cfg.Rate.AddHeaders,
				Logger:              logger,
			})(h)
		}

		if rt.Prefix == "/" {
			r.Handle("/*", h)
			continue
		}
		r.Handle(rt.Prefix, h)
		r.Handle(rt.Prefix+"/*", h)
	}

	return r, nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
