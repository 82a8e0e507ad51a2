package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/export"
	"github.com/sells-group/site-enricher/internal/model"
	"github.com/sells-group/site-enricher/internal/store"
)

// exportPageSize is how many stored results are read per query.
const exportPageSize = 500

var (
	exportFormat string
	exportOut    string
	exportStatus string
	exportSince  time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored enrichment results to CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		write, err := exportWriter(exportFormat)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.EnrichmentFilter{Status: model.EnrichmentStatus(exportStatus)}
		if exportSince > 0 {
			filter.Since = time.Now().Add(-exportSince)
		}
		results, err := listAll(ctx, st, filter)
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrap(err, "create export file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if err := write(out, results); err != nil {
			return err
		}
		zap.L().Info("export complete",
			zap.String("format", exportFormat),
			zap.Int("results", len(results)),
			zap.String("out", exportOut),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "only export results with this status")
	exportCmd.Flags().DurationVar(&exportSince, "since", 0, "only export results updated within this duration")
	rootCmd.AddCommand(exportCmd)
}

func exportWriter(format string) (func(io.Writer, []*model.EnrichmentResult) error, error) {
	switch format {
	case "csv":
		return export.WriteCSV, nil
	case "xlsx":
		return export.WriteXLSX, nil
	default:
		return nil, eris.Errorf("unknown export format %q (want csv or xlsx)", format)
	}
}

type enrichmentLister interface {
	ListEnrichments(ctx context.Context, filter store.EnrichmentFilter) ([]*model.EnrichmentResult, error)
}

// listAll pages through ListEnrichments until a short page is returned.
func listAll(ctx context.Context, st enrichmentLister, filter store.EnrichmentFilter) ([]*model.EnrichmentResult, error) {
	filter.Limit = exportPageSize
	var all []*model.EnrichmentResult
	for {
		page, err := st.ListEnrichments(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "list enrichments")
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			return all, nil
		}
		filter.Offset += len(page)
	}
}
