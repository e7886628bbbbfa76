package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Rate.Enabled)
	assert.Equal(t, BackendMemory, cfg.Rate.Backend)
	assert.Equal(t, time.Minute, cfg.Rate.SweepEvery)
	assert.Equal(t, StatsNone, cfg.Stats.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Stats.TTL)
	assert.Equal(t, 100, cfg.Concurrency.Max)
	assert.Equal(t, []string{domain.PolicyAIHeavy}, cfg.Concurrency.Policies)
	assert.Equal(t, time.Minute, cfg.Stats.Bucket)
	assert.Equal(t, "info", cfg.Log.Level)

	policies, err := cfg.EffectivePolicies()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPolicies(), policies)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("UPSTREAM_URL", "http://localhost:3000")
	t.Setenv("RATE_ENABLED", "false")
	t.Setenv("TRUST_XFF", "true")
	t.Setenv("RATE_SWEEP_EVERY", "30s")
	t.Setenv("RATE_POLICIES", "chat=30/1m, contact=3/1h")
	t.Setenv("CONCURRENCY_TIMEOUT", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateServe())

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.False(t, cfg.Rate.Enabled)
	assert.True(t, cfg.Rate.TrustXFF)
	assert.Equal(t, 30*time.Second, cfg.Rate.SweepEvery)
	assert.Equal(t, 250*time.Millisecond, cfg.Concurrency.Timeout)

	policies, err := cfg.EffectivePolicies()
	require.NoError(t, err)
	assert.Equal(t, domain.Config{Limit: 30, Window: time.Minute}, policies[domain.PolicyChat])
	assert.Equal(t, domain.Config{Limit: 3, Window: time.Hour}, policies[domain.PolicyContact])
	assert.Equal(t, domain.Config{Limit: 100, Window: time.Minute}, policies[domain.PolicyAPI])
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "gateway.yaml", `
upstream_url: http://app:3000
rate:
  backend: redis
  policies:
    aiHeavy: 4/1m
    search: 50/1m
  routes:
    /api/ai: aiHeavy
    /api/search: search
    /: api
redis:
  addr: localhost:6379
stats:
  backend: sqlite
  dsn: file:stats.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Rate.Backend)
	assert.Equal(t, StatsSQLite, cfg.Stats.Backend)

	policies, err := cfg.EffectivePolicies()
	require.NoError(t, err)
	assert.Equal(t, domain.Config{Limit: 4, Window: time.Minute}, policies[domain.PolicyAIHeavy])
	assert.Equal(t, domain.Config{Limit: 50, Window: time.Minute}, policies["search"])

	routes, err := cfg.EffectiveRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 3)
	assert.Equal(t, Route{Prefix: "/api/search", Policy: "search"}, routes[0])
	assert.Equal(t, Route{Prefix: "/api/ai", Policy: domain.PolicyAIHeavy}, routes[1])
	assert.Equal(t, Route{Prefix: "/", Policy: domain.PolicyAPI}, routes[2])
}

func TestLoad_FileCustomPolicyKeepsRouteCasing(t *testing.T) {
	path := writeFile(t, "gateway.yaml", `
rate:
  policies:
    myPolicy: 7/1m
  routes:
    /api/x: myPolicy
concurrency:
  max: 2
  policies: [myPolicy]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	policies, err := cfg.EffectivePolicies()
	require.NoError(t, err)
	p, err := policies.Lookup("myPolicy")
	require.NoError(t, err)
	assert.Equal(t, domain.Config{Limit: 7, Window: time.Minute}, p.Config)
	assert.NotContains(t, policies, "mypolicy")
	assert.True(t, cfg.Concurrency.Guarded("myPolicy"))
}

func TestEffectiveRoutes_DefaultsAndEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	routes, err := cfg.EffectiveRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 5)
	assert.Equal(t, "/api/lead-magnet", routes[0].Prefix)
	assert.Equal(t, "/", routes[len(routes)-1].Prefix)

	t.Setenv("RATE_ROUTES", "api/chat/=chat,/=api")
	cfg, err = Load("")
	require.NoError(t, err)
	routes, err = cfg.EffectiveRoutes()
	require.NoError(t, err)
	assert.Equal(t, []Route{
		{Prefix: "/api/chat", Policy: domain.PolicyChat},
		{Prefix: "/", Policy: domain.PolicyAPI},
	}, routes)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"RATE_BACKEND": "memcached"}},
		{"redis without addr", map[string]string{"RATE_BACKEND": "redis"}},
		{"redis stats without addr", map[string]string{"RATE_STATS_BACKEND": "redis"}},
		{"sql stats without dsn", map[string]string{"RATE_STATS_BACKEND": "postgres"}},
		{"bad policy", map[string]string{"RATE_POLICIES": "chat=0/1m"}},
		{"route to unknown policy", map[string]string{"RATE_ROUTES": "/x=nope"}},
		{"malformed route", map[string]string{"RATE_ROUTES": "/x"}},
		{"negative concurrency", map[string]string{"CONCURRENCY_MAX": "-1"}},
		{"concurrency on unknown policy", map[string]string{"CONCURRENCY_POLICIES": "aiHeavy,nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestConcurrencyGuarded(t *testing.T) {
	t.Setenv("CONCURRENCY_POLICIES", "aiHeavy,chat")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"aiHeavy", "chat"}, cfg.Concurrency.Policies)
	assert.True(t, cfg.Concurrency.Guarded(domain.PolicyChat))
	assert.False(t, cfg.Concurrency.Guarded(domain.PolicyContact))

	all := ConcurrencyConfig{Policies: []string{"*"}}
	assert.True(t, all.Guarded(domain.PolicyContact))
	assert.True(t, ConcurrencyConfig{}.Guarded(domain.PolicyAPI))
}

func TestValidateServe(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.ErrorIs(t, cfg.ValidateServe(), ErrInvalid)

	cfg.UpstreamURL = "localhost:3000"
	require.ErrorIs(t, cfg.ValidateServe(), ErrInvalid)

	cfg.UpstreamURL = "http://localhost:3000"
	require.NoError(t, cfg.ValidateServe())
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	t.Setenv("RATE_KEY_HEADER", "X-Existing")
	path := writeFile(t, ".env", "RATE_KEY_HEADER=X-From-File\nLOG_FORMAT=console\n")
	t.Setenv("LOG_FORMAT", "")
	require.NoError(t, os.Unsetenv("LOG_FORMAT"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "X-Existing", os.Getenv("RATE_KEY_HEADER"))
	assert.Equal(t, "console", os.Getenv("LOG_FORMAT"))
}
