package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/resilience"
)

// DomainEnricher enriches one domain. *Enricher satisfies it.
type DomainEnricher interface {
	Enrich(ctx context.Context, raw string) *model.EnrichmentResult
}

// WorkerFactory builds the enricher a single worker owns for its lifetime.
type WorkerFactory func(worker int) (DomainEnricher, error)

// BatchConfig configures a Batch.
type BatchConfig struct {
	Workers     int
	DomainDelay time.Duration
}

// BatchSummary counts outcomes of a run.
type BatchSummary struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Batch fans domains out over a fixed set of workers.
type Batch struct {
	factory WorkerFactory
	cfg     BatchConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewBatch creates a Batch.
func NewBatch(factory WorkerFactory, cfg BatchConfig) *Batch {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Batch{factory: factory, cfg: cfg, sleep: resilience.Sleep}
}

// Run enriches every domain and calls onResult as each finishes. onResult
// is called from a single goroutine. Domains left unprocessed when ctx is
// cancelled are counted as skipped.
func (b *Batch) Run(ctx context.Context, domains []string, onResult func(*model.EnrichmentResult)) (BatchSummary, error) {
	start := time.Now()
	summary := BatchSummary{Total: len(domains)}

	workers := b.cfg.Workers
	if workers > len(domains) {
		workers = len(domains)
	}
	enrichers := make([]DomainEnricher, workers)
	for i := range enrichers {
		en, err := b.factory(i)
		if err != nil {
			return summary, err
		}
		enrichers[i] = en
	}

	jobs := make(chan string)
	results := make(chan *model.EnrichmentResult)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, d := range domains {
			select {
			case jobs <- d:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	workerGroup, wctx := errgroup.WithContext(gctx)
	for i, en := range enrichers {
		workerGroup.Go(func() error {
			first := true
			for d := range jobs {
				if !first && b.cfg.DomainDelay > 0 {
					if err := b.sleep(wctx, b.cfg.DomainDelay); err != nil {
						return nil
					}
				}
				first = false
				res := en.Enrich(wctx, d)
				zap.L().Debug("batch: domain finished",
					zap.Int("worker", i),
					zap.String("domain", res.Domain),
					zap.String("status", string(res.Status)),
				)
				results <- res
			}
			return nil
		})
	}
	g.Go(func() error {
		err := workerGroup.Wait()
		close(results)
		return err
	})

	for res := range results {
		switch res.Status {
		case model.StatusCompleted:
			summary.Completed++
		default:
			summary.Failed++
		}
		if onResult != nil {
			onResult(res)
		}
	}

	err := g.Wait()
	summary.Skipped = summary.Total - summary.Completed - summary.Failed
	summary.Elapsed = time.Since(start)
	zap.L().Info("batch: complete",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("elapsed", summary.Elapsed),
	)
	if err != nil {
		return summary, err
	}
	return summary, ctx.Err()
}
