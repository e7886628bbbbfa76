package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// KeyFunc extrai do request a parte do identificador que diz "quem" é o cliente.
type KeyFunc func(r *http.Request) string

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// UserKeyFunc usa o "sub" de um bearer token HS256 válido como chave ("user:<id>"),
// para que o limite acompanhe o usuário logado e não o IP.
// Sem token, ou com token inválido, cai no fallback.
func UserKeyFunc(secret []byte, fallback KeyFunc) KeyFunc {
	if fallback == nil {
		fallback = DefaultKeyFunc("", false)
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(r *http.Request) string {
		if len(secret) == 0 {
			return fallback(r)
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return fallback(r)
		}

		claims := jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
			return fallback(r)
		}
		return "user:" + strings.TrimSpace(claims.Subject)
	}
}
