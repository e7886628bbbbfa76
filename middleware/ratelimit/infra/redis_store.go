package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore aplica a mesma janela fixa do Store, mas com o contador no Redis,
// então o limite vale para todas as instâncias que compartilham o servidor.
//
// O ResetTime é gravado junto do contador quando a janela abre e devolvido
// igual em todos os hits dela. A expiração fica a cargo do Redis (PEXPIRE),
// não existe janitor. Diferença de borda: no instante exato do ResetTime a
// chave já expirou e a próxima requisição abre uma janela nova.
type RedisStore struct {
	rdb    redis.UniversalClient
	script *redis.Script
	prefix string
	now    func() time.Time
}

var _ domain.WindowCounter = (*RedisStore)(nil)

type RedisStoreOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		script: redis.NewScript(fixedWindowLua),
		prefix: "ratelimit:window",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit implementa domain.WindowCounter.
// Erros do Redis são devolvidos; quem decide fail-open/fail-closed é a camada application.
func (s *RedisStore) Hit(ctx context.Context, key domain.Key, cfg domain.Config) (domain.Result, error) {
	if key == "" {
		return domain.Result{}, domain.ErrEmptyKey
	}
	if err := cfg.Validate(); err != nil {
		return domain.Result{}, fmt.Errorf("redis store: %w", err)
	}

	now := s.now()
	windowMs := cfg.Window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	openReset := now.Add(time.Duration(windowMs) * time.Millisecond).UnixMilli()

	values, err := s.script.Run(ctx, s.rdb, []string{s.prefix + ":" + string(key)}, windowMs, openReset).Result()
	if err != nil {
		return domain.Result{}, fmt.Errorf("redis script: %w", err)
	}

	count, resetMs, err := parseWindowResult(values)
	if err != nil {
		return domain.Result{}, err
	}

	res := domain.Result{
		Limit:     cfg.Limit,
		ResetTime: time.UnixMilli(resetMs).In(now.Location()),
	}
	if count > int64(cfg.Limit) {
		return res, nil
	}
	res.Success = true
	res.Remaining = cfg.Limit - int(count)
	return res, nil
}

func parseWindowResult(values interface{}) (int64, int64, error) {
	arr, ok := values.([]interface{})
	if !ok || len(arr) < 2 {
		return 0, 0, fmt.Errorf("unexpected lua result: %v", values)
	}
	count, err := toInt64(arr[0])
	if err != nil {
		return 0, 0, err
	}
	reset, err := toInt64(arr[1])
	if err != nil {
		return 0, 0, err
	}
	return count, reset, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", value)
	}
}
