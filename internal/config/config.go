// Package config carrega a configuração do gateway: defaults, arquivo YAML
// opcional (--config), .env e variáveis de ambiente, nessa ordem de prioridade
// crescente.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid config")

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	StatsNone     = "none"
	StatsMemory   = "memory"
	StatsRedis    = "redis"
	StatsSQLite   = "sqlite"
	StatsPostgres = "postgres"
)

type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	UpstreamURL     string        `mapstructure:"upstream_url" yaml:"upstream_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Rate        RateConfig        `mapstructure:"rate" yaml:"rate"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Stats       StatsConfig       `mapstructure:"stats" yaml:"stats"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type RateConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	KeyHeader  string        `mapstructure:"key_header" yaml:"key_header"`
	TrustXFF   bool          `mapstructure:"trust_xff" yaml:"trust_xff"`
	AddHeaders bool          `mapstructure:"add_headers" yaml:"add_headers"`
	FailOpen   bool          `mapstructure:"fail_open" yaml:"fail_open"`
	SweepEvery time.Duration `mapstructure:"sweep_every" yaml:"sweep_every"`
	JWTSecret  string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// Policies vem do arquivo (nome -> "limit/window").
	// PolicyList vem de RATE_POLICIES ("chat=30/1m,contact=3/1h") e ganha do arquivo.
	Policies   map[string]string `mapstructure:"policies" yaml:"policies"`
	PolicyList string            `mapstructure:"policy_list" yaml:"policy_list"`

	// Routes: prefixo de path -> nome da política. RouteList (RATE_ROUTES,
	// "/api/chat=chat,/=api") substitui o mapa inteiro quando presente.
	Routes    map[string]string `mapstructure:"routes" yaml:"routes"`
	RouteList string            `mapstructure:"route_list" yaml:"route_list"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

type StatsConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	DSN     string        `mapstructure:"dsn" yaml:"dsn"`
	Prefix  string        `mapstructure:"prefix" yaml:"prefix"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// PruneEvery é o intervalo da limpeza de eventos vencidos nos backends SQL.
	PruneEvery time.Duration `mapstructure:"prune_every" yaml:"prune_every"`
	Bucket     time.Duration `mapstructure:"bucket" yaml:"bucket"`
	TrackKeys  bool          `mapstructure:"track_keys" yaml:"track_keys"`
}

type ConcurrencyConfig struct {
	Max     int           `mapstructure:"max" yaml:"max"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Policies lista as políticas cujas rotas dividem o mesmo pool de vagas.
	// "*" (ou lista vazia) aplica em todas as rotas.
	Policies []string `mapstructure:"policies" yaml:"policies"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Route liga um prefixo de path a uma política.
type Route struct {
	Prefix string
	Policy string
}

// DefaultRoutes espelha os endpoints da aplicação protegida.
func DefaultRoutes() map[string]string {
	return map[string]string{
		"/api/chat":        domain.PolicyChat,
		"/api/ai":          domain.PolicyAIHeavy,
		"/api/contact":     domain.PolicyContact,
		"/api/lead-magnet": domain.PolicyLeadMagnet,
		"/":                domain.PolicyAPI,
	}
}

var envBindings = map[string]string{
	"listen_addr":      "LISTEN_ADDR",
	"upstream_url":     "UPSTREAM_URL",
	"shutdown_timeout": "SHUTDOWN_TIMEOUT",

	"rate.enabled":     "RATE_ENABLED",
	"rate.backend":     "RATE_BACKEND",
	"rate.key_header":  "RATE_KEY_HEADER",
	"rate.trust_xff":   "TRUST_XFF",
	"rate.add_headers": "ADD_RATELIMIT_HEADERS",
	"rate.fail_open":   "RATE_FAIL_OPEN",
	"rate.sweep_every": "RATE_SWEEP_EVERY",
	"rate.jwt_secret":  "RATE_JWT_SECRET",
	"rate.policy_list": "RATE_POLICIES",
	"rate.route_list":  "RATE_ROUTES",

	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
	"redis.prefix":   "REDIS_PREFIX",

	"stats.backend":     "RATE_STATS_BACKEND",
	"stats.dsn":         "RATE_STATS_DSN",
	"stats.prefix":      "RATE_STATS_PREFIX",
	"stats.ttl":         "RATE_STATS_TTL",
	"stats.prune_every": "RATE_STATS_PRUNE_EVERY",
	"stats.bucket":      "RATE_STATS_BUCKET",
	"stats.track_keys":  "RATE_STATS_TRACK_KEYS",

	"concurrency.max":      "CONCURRENCY_MAX",
	"concurrency.timeout":  "CONCURRENCY_TIMEOUT",
	"concurrency.policies": "CONCURRENCY_POLICIES",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("rate.enabled", true)
	v.SetDefault("rate.backend", BackendMemory)
	v.SetDefault("rate.sweep_every", "1m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ratelimit:window")

	v.SetDefault("stats.backend", StatsNone)
	v.SetDefault("stats.prefix", "ratelimit:stats")
	v.SetDefault("stats.ttl", "24h")
	v.SetDefault("stats.prune_every", "1m")
	v.SetDefault("stats.bucket", "1m")

	v.SetDefault("concurrency.max", 100)
	v.SetDefault("concurrency.timeout", "0s")
	v.SetDefault("concurrency.policies", []string{domain.PolicyAIHeavy})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadDotEnv carrega arquivos .env sem sobrescrever variáveis já definidas.
// Arquivo ausente não é erro.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load lê defaults, o arquivo em path (se não vazio) e o ambiente.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EffectivePolicies = padrões + arquivo + RATE_POLICIES, validado.
func (c Config) EffectivePolicies() (domain.Policies, error) {
	defaults := domain.DefaultPolicies()

	fromEnv, err := domain.ParsePolicies(c.Rate.PolicyList)
	if err != nil {
		return nil, err
	}

	known, err := c.referencedNames(defaults, fromEnv)
	if err != nil {
		return nil, err
	}
	fromFile := domain.Policies{}
	for name, def := range c.Rate.Policies {
		cfg, err := domain.ParsePolicy(def)
		if err != nil {
			return nil, err
		}
		fromFile[canonicalName(name, known)] = cfg
	}

	out := defaults.Merge(fromFile).Merge(fromEnv)
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// referencedNames junta os nomes de política escritos em lugares onde o viper
// não mexe na caixa: padrões, RATE_POLICIES, valores de rota e concurrency.
func (c Config) referencedNames(defaults, fromEnv domain.Policies) ([]string, error) {
	names := append(defaults.Names(), fromEnv.Names()...)
	routes, err := c.EffectiveRoutes()
	if err != nil {
		return nil, err
	}
	for _, rt := range routes {
		names = append(names, rt.Policy)
	}
	return append(names, c.Concurrency.Policies...), nil
}

// canonicalName desfaz o lowercase que o viper aplica nas chaves do arquivo
// ("aiheavy" -> "aiHeavy", "mypolicy" -> "myPolicy") quando o nome aparece
// com outra caixa em algum lugar da config.
func canonicalName(name string, known []string) string {
	for _, k := range known {
		if k == name {
			return name
		}
	}
	for _, k := range known {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

// EffectiveRoutes devolve as rotas ordenadas do prefixo mais longo para o mais
// curto, então "/api/chat" é registrado antes de "/".
func (c Config) EffectiveRoutes() ([]Route, error) {
	routes := c.Rate.Routes
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}
	if strings.TrimSpace(c.Rate.RouteList) != "" {
		parsed, err := parseRoutes(c.Rate.RouteList)
		if err != nil {
			return nil, err
		}
		routes = parsed
	}

	out := make([]Route, 0, len(routes))
	for prefix, policy := range routes {
		out = append(out, Route{Prefix: normalizePrefix(prefix), Policy: policy})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Prefix) != len(out[j].Prefix) {
			return len(out[i].Prefix) > len(out[j].Prefix)
		}
		return out[i].Prefix < out[j].Prefix
	})
	return out, nil
}

func parseRoutes(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		prefix, policy, ok := strings.Cut(item, "=")
		prefix, policy = strings.TrimSpace(prefix), strings.TrimSpace(policy)
		if !ok || prefix == "" || policy == "" {
			return nil, fmt.Errorf("route entry %q: expected <prefix>=<policy>: %w", item, ErrInvalid)
		}
		out[prefix] = policy
	}
	return out, nil
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func (c Config) Validate() error {
	switch c.Rate.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_BACKEND=redis: %w", ErrInvalid)
		}
	default:
		return fmt.Errorf("rate.backend %q (expected memory or redis): %w", c.Rate.Backend, ErrInvalid)
	}

	switch c.Stats.Backend {
	case "", StatsNone, StatsMemory:
	case StatsRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_STATS_BACKEND=redis: %w", ErrInvalid)
		}
	case StatsSQLite, StatsPostgres:
		if strings.TrimSpace(c.Stats.DSN) == "" {
			return fmt.Errorf("RATE_STATS_DSN is required when RATE_STATS_BACKEND=%s: %w", c.Stats.Backend, ErrInvalid)
		}
	default:
		return fmt.Errorf("stats.backend %q: %w", c.Stats.Backend, ErrInvalid)
	}

	if c.Rate.SweepEvery <= 0 {
		return fmt.Errorf("RATE_SWEEP_EVERY must be > 0: %w", ErrInvalid)
	}
	if c.Concurrency.Max < 0 {
		return fmt.Errorf("CONCURRENCY_MAX must be >= 0: %w", ErrInvalid)
	}

	policies, err := c.EffectivePolicies()
	if err != nil {
		return err
	}
	routes, err := c.EffectiveRoutes()
	if err != nil {
		return err
	}
	for _, rt := range routes {
		if _, err := policies.Lookup(rt.Policy); err != nil {
			return fmt.Errorf("route %s: %w", rt.Prefix, err)
		}
	}
	for _, name := range c.Concurrency.Policies {
		if name == "*" {
			continue
		}
		if _, err := policies.Lookup(name); err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
	}
	return nil
}

// Guarded diz se as rotas da política passam pelo limite de concorrência.
func (c ConcurrencyConfig) Guarded(policy string) bool {
	if len(c.Policies) == 0 {
		return true
	}
	for _, p := range c.Policies {
		if p == "*" || p == policy {
			return true
		}
	}
	return false
}

// ValidateServe cobre o que só o subcomando serve precisa.
func (c Config) ValidateServe() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return fmt.Errorf("UPSTREAM_URL is required: %w", ErrInvalid)
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("UPSTREAM_URL %q: %w", c.UpstreamURL, ErrInvalid)
	}
	return nil
}
