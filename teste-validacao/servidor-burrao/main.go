package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"admission-gateway/internal/observability"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Upstream burro para testar o gateway na mão: responde qualquer /api/* com
// um JSON simples e loga cada acesso. Sem limite nenhum aqui.
func main() {
	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"), "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	addr := ":3000"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger.Info("servidor rodando", zap.String("url", "http://localhost"+addr))
	if err := http.ListenAndServe(addr, newMux(logger)); err != nil {
		logger.Fatal("erro ao subir o servidor", zap.Error(err))
	}
}

func newMux(logger *zap.Logger) http.Handler {
	mux := chi.NewRouter()
	mux.HandleFunc("/api/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
			"at":     time.Now().Format(time.RFC3339),
		})
		logger.Info("upstream hit",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("xff", r.Header.Get("X-Forwarded-For")),
		)
	})
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
	})
	return mux
}
