package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/internal/observability"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Exemplo sem proxy: cada handler chama o limiter direto, com a política da rota.
func main() {
	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"), "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewStore()
	store.StartJanitor(ctx, nil)

	svc := application.Service{Counter: store}
	policies := domain.DefaultPolicies()
	// chave pelo IP da conexão; headers do cliente não entram sem proxy confiável na frente
	keyFn := ratelimit.UserKeyFunc([]byte(os.Getenv("RATE_JWT_SECRET")), ratelimit.DefaultKeyFunc("", false))

	// limit devolve true quando a request pode seguir; senão já respondeu 429.
	limit := func(w http.ResponseWriter, r *http.Request, policy string) bool {
		p, err := policies.Lookup(policy)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return false
		}
		dec, err := svc.Check(r.Context(), domain.Key(policy+":"+keyFn(r)), p.Config)
		if err != nil {
			logger.Error("rate limit check failed", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return false
		}
		if !dec.Success {
			ratelimit.WriteRejection(w, dec.Result, time.Now())
			return false
		}
		ratelimit.SetHeaders(w, dec.Result)
		return true
	}

	r := chi.NewRouter()
	r.Use(observability.RequestID)
	r.Use(observability.RequestLogger(logger))

	r.Post("/api/contact", func(w http.ResponseWriter, r *http.Request) {
		if !limit(w, r, domain.PolicyContact) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	})
	r.Post("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if !limit(w, r, domain.PolicyChat) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	})
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if !limit(w, r, domain.PolicyAPI) {
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
