package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/site-enricher/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, eris.New("sqlite: empty path")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Timestamps are stored as RFC 3339 UTC text so they compare lexically.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichments (
	domain       TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	result       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_cache (
	domain     TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	crawled_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichments_status ON enrichments(status);
CREATE INDEX IF NOT EXISTS idx_enrichments_updated_at ON enrichments(updated_at);
CREATE INDEX IF NOT EXISTS idx_crawl_cache_expires_at ON crawl_cache(expires_at);
`

const sqliteUpsertEnrichment = `INSERT INTO enrichments (domain, name, status, result, started_at, completed_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(domain) DO UPDATE SET
	name = excluded.name, status = excluded.status, result = excluded.result,
	started_at = excluded.started_at, completed_at = excluded.completed_at, updated_at = excluded.updated_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveEnrichment(ctx context.Context, r *model.EnrichmentResult) error {
	args, err := s.enrichmentArgs(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertEnrichment, args...)
	return eris.Wrapf(err, "sqlite: save enrichment %s", r.Domain)
}

func (s *SQLiteStore) SaveEnrichments(ctx context.Context, rs []*model.EnrichmentResult) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertEnrichment)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	for _, r := range rs {
		args, err := s.enrichmentArgs(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: save enrichment %s", r.Domain)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit enrichments")
}

func (s *SQLiteStore) enrichmentArgs(r *model.EnrichmentResult) ([]any, error) {
	resultJSON, err := json.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal enrichment")
	}
	return []any{
		r.Domain, r.Name, string(r.Status), string(resultJSON),
		formatTime(r.StartedAt), formatTime(r.CompletedAt), formatTime(s.now()),
	}, nil
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, domain string) (*model.EnrichmentResult, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM enrichments WHERE domain = ?`, domain,
	).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get enrichment %s", domain)
	}
	return decodeEnrichment([]byte(resultJSON))
}

func (s *SQLiteStore) ListEnrichments(ctx context.Context, filter EnrichmentFilter) ([]*model.EnrichmentResult, error) {
	query := `SELECT result FROM enrichments WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, formatTime(filter.Since))
	}
	query += ` ORDER BY updated_at DESC, domain LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichments")
	}
	defer rows.Close()

	var out []*model.EnrichmentResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan enrichment")
		}
		r, err := decodeEnrichment([]byte(resultJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list enrichments iterate")
}

func (s *SQLiteStore) GetCachedCrawl(ctx context.Context, domain string) (*model.ConsolidatedDocument, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM crawl_cache WHERE domain = ? AND expires_at > ?`,
		domain, formatTime(s.now()),
	).Scan(&docJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached crawl")
	}
	var doc model.ConsolidatedDocument
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached crawl")
	}
	return &doc, nil
}

func (s *SQLiteStore) SetCachedCrawl(ctx context.Context, domain string, doc model.ConsolidatedDocument, ttl time.Duration) error {
	now := s.now()
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal crawl")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO crawl_cache (domain, document, crawled_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET document = excluded.document,
		 crawled_at = excluded.crawled_at, expires_at = excluded.expires_at`,
		domain, string(docJSON), formatTime(now), formatTime(now.Add(ttl)),
	)
	return eris.Wrap(err, "sqlite: set cached crawl")
}

func (s *SQLiteStore) DeleteExpiredCrawls(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM crawl_cache WHERE expires_at <= ?`, formatTime(s.now()),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired crawls")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func decodeEnrichment(b []byte) (*model.EnrichmentResult, error) {
	var r model.EnrichmentResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal enrichment")
	}
	return &r, nil
}
