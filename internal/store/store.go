// Package store persists enrichment results and the consolidated crawl
// cache. SQLite is the default backend; Postgres is used when a DSN is
// configured.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-enricher/internal/model"
)

// ErrNotFound is returned when a domain has no stored enrichment.
var ErrNotFound = eris.New("store: not found")

// EnrichmentFilter specifies criteria for listing enrichments.
type EnrichmentFilter struct {
	Status model.EnrichmentStatus `json:"status,omitempty"`
	Since  time.Time              `json:"since,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// DefaultListLimit caps ListEnrichments when the filter sets no limit.
const DefaultListLimit = 100

// Store defines the persistence interface for enrichment.
type Store interface {
	// Enrichments
	SaveEnrichment(ctx context.Context, r *model.EnrichmentResult) error
	SaveEnrichments(ctx context.Context, rs []*model.EnrichmentResult) error
	GetEnrichment(ctx context.Context, domain string) (*model.EnrichmentResult, error)
	ListEnrichments(ctx context.Context, filter EnrichmentFilter) ([]*model.EnrichmentResult, error)

	// Crawl cache
	GetCachedCrawl(ctx context.Context, domain string) (*model.ConsolidatedDocument, error)
	SetCachedCrawl(ctx context.Context, domain string, doc model.ConsolidatedDocument, ttl time.Duration) error
	DeleteExpiredCrawls(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and tunes the backend.
type Config struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string      `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open connects to the configured backend and runs its migration.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	case "", "sqlite":
		st, err = NewSQLite(cfg.SQLitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func listLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
