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

// RedisStatsStore agrega decisões de todas as réplicas do gateway.
//
// Layout das chaves (prefixo padrão "ratelimit:stats"):
//
//	<prefix>:policies                  set com as políticas já vistas
//	<prefix>:policy:<nome>             hash allowed/denied acumulado
//	<prefix>:bucket:<unix>:<nome>      mesmo hash por fatia de tempo, expira em ttl
//	<prefix>:key:<identificador>       opcional, expira em ttl
type RedisStatsStore struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	bucket    time.Duration
	trackKeys bool
}

var (
	_ domain.StatsStore  = (*RedisStatsStore)(nil)
	_ domain.StatsReader = (*RedisStatsStore)(nil)
)

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket define o tamanho da fatia de série temporal. 0 desliga.
func WithStatsBucket(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = d }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func field(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func (s *RedisStatsStore) policyKey(name string) string { return s.prefix + ":policy:" + name }

func (s *RedisStatsStore) bucketKey(name string, at time.Time) string {
	start := at.Truncate(s.bucket).Unix()
	return s.prefix + ":bucket:" + strconv.FormatInt(start, 10) + ":" + name
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	name := strings.TrimSpace(ev.Policy)
	if name == "" {
		name = "unknown"
	}
	f := field(ev.Allowed)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.prefix+":policies", name)
		pipe.HIncrBy(ctx, s.policyKey(name), f, 1)

		if s.bucket > 0 {
			bk := s.bucketKey(name, at)
			pipe.HIncrBy(ctx, bk, f, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, bk, s.ttl)
			}
		}
		if s.trackKeys && ev.Key != "" {
			kk := s.prefix + ":key:" + string(ev.Key)
			pipe.HIncrBy(ctx, kk, f, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, kk, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis stats record: %w", err)
	}
	return nil
}

func (s *RedisStatsStore) ByPolicy(ctx context.Context) (map[string]Counters, error) {
	names, err := s.rdb.SMembers(ctx, s.prefix+":policies").Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats policies: %w", err)
	}

	cmds := make(map[string]*redis.MapStringStringCmd, len(names))
	pipe := s.rdb.Pipeline()
	for _, name := range names {
		cmds[name] = pipe.HGetAll(ctx, s.policyKey(name))
	}
	if len(names) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis stats read: %w", err)
		}
	}

	out := make(map[string]Counters, len(names))
	for name, cmd := range cmds {
		out[name] = parseCounters(cmd.Val())
	}
	return out, nil
}

func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	byPolicy, err := s.ByPolicy(ctx)
	if err != nil {
		return Counters{}, err
	}
	return domain.SumCounters(byPolicy), nil
}

// Bucket lê a fatia de tempo que contém at para uma política.
func (s *RedisStatsStore) Bucket(ctx context.Context, policy string, at time.Time) (Counters, error) {
	if s.bucket <= 0 {
		return Counters{}, nil
	}
	vals, err := s.rdb.HGetAll(ctx, s.bucketKey(policy, at)).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats bucket: %w", err)
	}
	return parseCounters(vals), nil
}

func parseCounters(vals map[string]string) Counters {
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	return c
}
