package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDefaultKeyFunc_PrefersHeaderWhenSet(t *testing.T) {
	fn := DefaultKeyFunc("X-Client", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", " client-123 ")

	if got := fn(r); got != "client-123" {
		t.Fatalf("expected header key, got %q", got)
	}
}

func TestDefaultKeyFunc_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := fn(r); got != "1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDefaultKeyFunc_IgnoresXForwardedForWhenUntrusted(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "[::1]:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := fn(r); got != "::1" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestKeyFunc_RotatingClientHeadersShareOneKey(t *testing.T) {
	fn := UserKeyFunc(nil, DefaultKeyFunc("", false))

	seen := map[string]bool{}
	for _, v := range []string{"a", "b", "c"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "203.0.113.7:4000"
		r.Header.Set("X-Api-Key", "key-"+v)
		r.Header.Set("X-Forwarded-For", "198.51.100."+v)
		seen[fn(r)] = true
	}

	if len(seen) != 1 || !seen["203.0.113.7"] {
		t.Fatalf("expected one key from the connection ip, got %v", seen)
	}
}

func signed(t *testing.T, secret []byte, method jwt.SigningMethod, sub string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestUserKeyFunc(t *testing.T) {
	secret := []byte("test-secret")
	fn := UserKeyFunc(secret, DefaultKeyFunc("", false))

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token uses subject", "Bearer " + signed(t, secret, jwt.SigningMethodHS256, "42"), "user:42"},
		{"no token falls back to ip", "", "10.0.0.7"},
		{"wrong secret falls back", "Bearer " + signed(t, []byte("other"), jwt.SigningMethodHS256, "42"), "10.0.0.7"},
		{"wrong algorithm falls back", "Bearer " + signed(t, secret, jwt.SigningMethodHS512, "42"), "10.0.0.7"},
		{"empty subject falls back", "Bearer " + signed(t, secret, jwt.SigningMethodHS256, ""), "10.0.0.7"},
		{"garbage falls back", "Bearer not-a-jwt", "10.0.0.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			r.RemoteAddr = "10.0.0.7:4000"
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := fn(r); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestUserKeyFunc_NoSecretUsesFallback(t *testing.T) {
	fn := UserKeyFunc(nil, nil)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.8:4000"
	r.Header.Set("Authorization", "Bearer whatever")

	if got := fn(r); got != "10.0.0.8" {
		t.Fatalf("expected fallback ip, got %q", got)
	}
}
