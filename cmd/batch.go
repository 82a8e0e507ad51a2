package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/crm"
	"github.com/sells-group/site-enricher/internal/domain"
	"github.com/sells-group/site-enricher/internal/export"
	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/pipeline"
)

// batchFlushSize is how many results are buffered before a bulk save.
const batchFlushSize = 25

var (
	batchFile    string
	batchFromCRM bool
	batchLimit   int
	batchWorkers int
	batchSync    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Enrich many domains concurrently",
	Long:  "Enriches the domains in a text or XLSX file, or the Salesforce Accounts that have never been enriched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if (batchFile == "") == !batchFromCRM {
			return eris.New("exactly one of --file or --from-crm is required")
		}

		mode := "enrich"
		if batchSync || batchFromCRM {
			mode = "sync"
		}
		env, err := initEnv(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		var syncer *crm.Syncer
		if mode == "sync" {
			if syncer, err = initSyncer(env.Limiters); err != nil {
				return err
			}
		}

		var domains []string
		if batchFromCRM {
			domains, err = syncer.PendingAccounts(ctx, batchLimit)
			if err != nil {
				return eris.Wrap(err, "list pending accounts")
			}
		} else {
			domains, err = readDomainFile(batchFile)
			if err != nil {
				return err
			}
			if batchLimit > 0 && len(domains) > batchLimit {
				domains = domains[:batchLimit]
			}
		}

		runID := uuid.NewString()
		log := zap.L().With(zap.String("run_id", runID))
		if len(domains) == 0 {
			log.Info("batch: nothing to do")
			return nil
		}

		workers := cfg.Batch.Workers
		if batchWorkers > 0 {
			workers = batchWorkers
		}
		log.Info("batch: starting", zap.Int("domains", len(domains)), zap.Int("workers", workers))

		buf := &resultBuffer{
			ctx:   ctx,
			saver: env.Store,
			size:  batchFlushSize,
		}
		if syncer != nil {
			buf.onFlush = func(ctx context.Context, rs []*model.EnrichmentResult) {
				syncResults(ctx, syncer, rs)
			}
		}

		batch := pipeline.NewBatch(func(int) (pipeline.DomainEnricher, error) {
			en, _ := env.newWorker(nil)
			return en, nil
		}, pipeline.BatchConfig{
			Workers:     workers,
			DomainDelay: time.Duration(cfg.Batch.DomainDelayMs) * time.Millisecond,
		})

		summary, runErr := batch.Run(ctx, domains, buf.Add)
		// Results already collected are saved even after an interrupt.
		buf.ctx = context.WithoutCancel(ctx)
		flushErr := buf.Flush()

		log.Info("batch: finished",
			zap.Int("total", summary.Total),
			zap.Int("completed", summary.Completed),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("saved", buf.saved),
			zap.Duration("elapsed", summary.Elapsed),
		)
		if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "batch interrupted")
		}
		return flushErr
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file with one domain per line (.txt) or in the first column (.xlsx)")
	batchCmd.Flags().BoolVar(&batchFromCRM, "from-crm", false, "enrich Salesforce Accounts without an enrichment status and write the results back")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 200, "max number of domains to process")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "concurrent workers (default from config)")
	batchCmd.Flags().BoolVar(&batchSync, "sync", false, "write results to Salesforce")
	rootCmd.AddCommand(batchCmd)
}

// readDomainFile loads a domain list, logging rejected lines.
func readDomainFile(path string) ([]string, error) {
	var (
		domains  []string
		problems []domain.LineError
		err      error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		domains, problems, err = export.ReadSheetDomains(path)
	} else {
		f, oerr := os.Open(path)
		if oerr != nil {
			return nil, eris.Wrap(oerr, "open domain file")
		}
		defer f.Close() //nolint:errcheck
		domains, problems, err = domain.ReadDomains(f)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read domains from %s", path)
	}
	for _, p := range problems {
		zap.L().Warn("batch: skipping line",
			zap.Int("line", p.Line),
			zap.String("input", p.Input),
			zap.String("reason", p.Reason),
		)
	}
	return domains, nil
}

// enrichmentSaver is the slice of store.Store the buffer needs.
type enrichmentSaver interface {
	SaveEnrichments(ctx context.Context, rs []*model.EnrichmentResult) error
}

// resultBuffer collects batch results and saves them in chunks. Add is
// called from the batch collector goroutine only.
type resultBuffer struct {
	ctx     context.Context
	saver   enrichmentSaver
	size    int
	onFlush func(ctx context.Context, rs []*model.EnrichmentResult)

	pending []*model.EnrichmentResult
	saved   int
	lastErr error
}

// Add buffers r and flushes once the buffer is full.
func (b *resultBuffer) Add(r *model.EnrichmentResult) {
	zap.L().Info("batch: result",
		zap.String("domain", r.Domain),
		zap.String("status", string(r.Status)),
		zap.Int("pages", r.PagesScraped),
	)
	b.pending = append(b.pending, r)
	if len(b.pending) >= b.size {
		_ = b.Flush()
	}
}

// Flush saves the buffered results and returns the most recent save error.
func (b *resultBuffer) Flush() error {
	if len(b.pending) == 0 {
		return b.lastErr
	}
	chunk := b.pending
	b.pending = nil

	if err := b.saver.SaveEnrichments(b.ctx, chunk); err != nil {
		zap.L().Error("batch: save failed", zap.Int("results", len(chunk)), zap.Error(err))
		b.lastErr = eris.Wrap(err, "save batch results")
	} else {
		b.saved += len(chunk)
	}
	if b.onFlush != nil {
		b.onFlush(b.ctx, chunk)
	}
	return b.lastErr
}

// syncResults pushes the successful results in rs to Salesforce.
func syncResults(ctx context.Context, syncer *crm.Syncer, rs []*model.EnrichmentResult) {
	var ok []*model.EnrichmentResult
	for _, r := range rs {
		if r.Success {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return
	}
	outcomes, err := syncer.SyncMany(ctx, ok)
	if err != nil {
		zap.L().Error("batch: crm sync failed", zap.Error(err))
	}
	updated := 0
	for _, o := range outcomes {
		if o.Updated {
			updated++
		} else if o.Error != "" {
			zap.L().Warn("batch: crm sync skipped", zap.String("domain", o.Domain), zap.String("error", o.Error))
		}
	}
	zap.L().Info("batch: crm sync", zap.Int("results", len(ok)), zap.Int("updated", updated))
}
