package infra

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialetos suportados pelo SQLStatsStore (nomes dos drivers database/sql).
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "pgx"
)

var sqlSchemas = map[string]string{
	DialectSQLite: `
CREATE TABLE IF NOT EXISTS ratelimit_events (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    rl_key  TEXT    NOT NULL,
    policy  TEXT    NOT NULL,
    allowed INTEGER NOT NULL,
    method  TEXT    NOT NULL DEFAULT '',
    path    TEXT    NOT NULL DEFAULT '',
    at_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ratelimit_events_at ON ratelimit_events(at_ms);
`,
	DialectPostgres: `
CREATE TABLE IF NOT EXISTS ratelimit_events (
    id      BIGSERIAL PRIMARY KEY,
    rl_key  TEXT     NOT NULL,
    policy  TEXT     NOT NULL,
    allowed SMALLINT NOT NULL,
    method  TEXT     NOT NULL DEFAULT '',
    path    TEXT     NOT NULL DEFAULT '',
    at_ms   BIGINT   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ratelimit_events_at ON ratelimit_events(at_ms);
`,
}

// SQLStatsStore grava cada decisão numa tabela de auditoria (ratelimit_events).
// Serve SQLite (modernc.org/sqlite, sem cgo) e Postgres (pgx stdlib).
type SQLStatsStore struct {
	db      *sql.DB
	dialect string
}

var (
	_ domain.StatsStore  = (*SQLStatsStore)(nil)
	_ domain.StatsReader = (*SQLStatsStore)(nil)
)

// OpenSQLStatsStore abre a conexão, confere com ping e cria o schema.
func OpenSQLStatsStore(ctx context.Context, dialect, dsn string) (*SQLStatsStore, error) {
	if _, ok := sqlSchemas[dialect]; !ok {
		return nil, fmt.Errorf("unsupported stats dialect %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}
	if dialect == DialectSQLite {
		// SQLite aceita um escritor por vez; ":memory:" é por conexão.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping stats database: %w", err)
	}

	s, err := NewSQLStatsStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStatsStore usa uma conexão já aberta e cria o schema se preciso.
func NewSQLStatsStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStatsStore, error) {
	schema, ok := sqlSchemas[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported stats dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize stats schema: %w", err)
	}
	return &SQLStatsStore{db: db, dialect: dialect}, nil
}

func (s *SQLStatsStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	allowed := 0
	if ev.Allowed {
		allowed = 1
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO ratelimit_events (rl_key, policy, allowed, method, path, at_ms) VALUES (?, ?, ?, ?, ?, ?)`),
		string(ev.Key), ev.Policy, allowed, ev.Method, ev.Path, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record rate limit event: %w", err)
	}
	return nil
}

func (s *SQLStatsStore) Totals(ctx context.Context) (Counters, error) {
	var c Counters
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(allowed), 0), COALESCE(SUM(1 - allowed), 0) FROM ratelimit_events`)
	if err := row.Scan(&c.Allowed, &c.Denied); err != nil {
		return Counters{}, fmt.Errorf("failed to read rate limit totals: %w", err)
	}
	return c, nil
}

func (s *SQLStatsStore) ByPolicy(ctx context.Context) (map[string]Counters, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT policy, COALESCE(SUM(allowed), 0), COALESCE(SUM(1 - allowed), 0) FROM ratelimit_events GROUP BY policy`)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit counters: %w", err)
	}
	defer rows.Close()

	out := map[string]Counters{}
	for rows.Next() {
		var name string
		var c Counters
		if err := rows.Scan(&name, &c.Allowed, &c.Denied); err != nil {
			return nil, fmt.Errorf("failed to scan rate limit counters: %w", err)
		}
		out[name] = c
	}
	return out, rows.Err()
}

// DeleteBefore apaga eventos mais antigos que t e devolve quantos saíram.
func (s *SQLStatsStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM ratelimit_events WHERE at_ms < ?`), t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate limit events: %w", err)
	}
	return res.RowsAffected()
}

// StartPruner apaga, a cada every, os eventos mais velhos que ttl.
// Pare cancelando o contexto. onPrune (opcional) recebe o resultado de cada rodada.
func (s *SQLStatsStore) StartPruner(ctx context.Context, every, ttl time.Duration, onPrune func(removed int64, err error)) {
	if every <= 0 || ttl <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := s.DeleteBefore(ctx, time.Now().Add(-ttl))
				if onPrune != nil {
					onPrune(n, err)
				}
			}
		}
	}()
}

// rebind troca "?" por "$n" no Postgres.
func (s *SQLStatsStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
