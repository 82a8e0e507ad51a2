package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/site-enricher/internal/db"
	"github.com/sells-group/site-enricher/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlUpsertEnrichment = `INSERT INTO enrichments (domain, name, status, result, started_at, completed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (domain) DO UPDATE SET name = $2, status = $3, result = $4, started_at = $5, completed_at = $6, updated_at = $7`
	sqlGetEnrichment  = `SELECT result FROM enrichments WHERE domain = $1`
	sqlGetCachedCrawl = `SELECT document FROM crawl_cache WHERE domain = $1 AND expires_at > now()`
	sqlSetCachedCrawl = `INSERT INTO crawl_cache (domain, document, crawled_at, expires_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (domain) DO UPDATE SET document = $2, crawled_at = $3, expires_at = $4`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"upsert_enrichment": sqlUpsertEnrichment,
	"get_enrichment":    sqlGetEnrichment,
	"get_cached_crawl":  sqlGetCachedCrawl,
	"set_cached_crawl":  sqlSetCachedCrawl,
}

// enrichmentColumns is the COPY column order for SaveEnrichments.
var enrichmentColumns = []string{"domain", "name", "status", "result", "started_at", "completed_at", "updated_at"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Tables may not exist until Migrate runs, so preparation failures on
	// a fresh database are ignored.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			_, _ = conn.Prepare(ctx, name, sql)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichments (
	domain       TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	result       JSONB NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_cache (
	domain     TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	crawled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichments_status ON enrichments(status);
CREATE INDEX IF NOT EXISTS idx_enrichments_updated_at ON enrichments(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_crawl_cache_expires_at ON crawl_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *PostgresStore) SaveEnrichment(ctx context.Context, r *model.EnrichmentResult) error {
	resultJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}
	_, err = s.pool.Exec(ctx, sqlUpsertEnrichment,
		r.Domain, r.Name, string(r.Status), resultJSON, r.StartedAt, r.CompletedAt, s.clock(),
	)
	return eris.Wrapf(err, "postgres: save enrichment %s", r.Domain)
}

// SaveEnrichments upserts many results in one COPY round trip.
func (s *PostgresStore) SaveEnrichments(ctx context.Context, rs []*model.EnrichmentResult) error {
	if len(rs) == 0 {
		return nil
	}
	now := s.clock()
	// COPY rejects duplicate keys within one batch; the last result wins.
	latest := make(map[string]int, len(rs))
	for i, r := range rs {
		latest[r.Domain] = i
	}
	rows := make([][]any, 0, len(latest))
	for i, r := range rs {
		if latest[r.Domain] != i {
			continue
		}
		resultJSON, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal enrichment")
		}
		rows = append(rows, []any{r.Domain, r.Name, string(r.Status), resultJSON, r.StartedAt, r.CompletedAt, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "enrichments",
		Columns:      enrichmentColumns,
		ConflictKeys: []string{"domain"},
	}, rows)
	return eris.Wrap(err, "postgres: save enrichments")
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, domain string) (*model.EnrichmentResult, error) {
	var resultJSON []byte
	err := s.pool.QueryRow(ctx, sqlGetEnrichment, domain).Scan(&resultJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get enrichment %s", domain)
	}
	return decodeEnrichment(resultJSON)
}

func (s *PostgresStore) ListEnrichments(ctx context.Context, filter EnrichmentFilter) ([]*model.EnrichmentResult, error) {
	query := `SELECT result FROM enrichments WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND updated_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY updated_at DESC, domain`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichments")
	}
	defer rows.Close()

	var out []*model.EnrichmentResult
	for rows.Next() {
		var resultJSON []byte
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrichment")
		}
		r, err := decodeEnrichment(resultJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list enrichments iterate")
}

func (s *PostgresStore) GetCachedCrawl(ctx context.Context, domain string) (*model.ConsolidatedDocument, error) {
	var docJSON []byte
	err := s.pool.QueryRow(ctx, sqlGetCachedCrawl, domain).Scan(&docJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached crawl")
	}
	var doc model.ConsolidatedDocument
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached crawl")
	}
	return &doc, nil
}

func (s *PostgresStore) SetCachedCrawl(ctx context.Context, domain string, doc model.ConsolidatedDocument, ttl time.Duration) error {
	now := s.clock()
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal crawl")
	}
	_, err = s.pool.Exec(ctx, sqlSetCachedCrawl, domain, docJSON, now, now.Add(ttl))
	return eris.Wrap(err, "postgres: set cached crawl")
}

func (s *PostgresStore) DeleteExpiredCrawls(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired crawls")
	}
	return int(tag.RowsAffected()), nil
}
