package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var enrichSync bool

var enrichCmd = &cobra.Command{
	Use:   "enrich <domain>",
	Short: "Crawl, analyze and store one company website",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mode := "enrich"
		if enrichSync {
			mode = "sync"
		}
		env, err := initEnv(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		en, _ := env.newWorker(env.Store)
		result := en.Enrich(ctx, args[0])

		zap.L().Info("enrichment finished",
			zap.String("domain", result.Domain),
			zap.String("status", string(result.Status)),
			zap.Int("pages", result.PagesScraped),
			zap.Bool("from_cache", result.FromCache),
		)

		if enrichSync && result.Success {
			syncer, err := initSyncer(env.Limiters)
			if err != nil {
				return err
			}
			outcome := syncer.Sync(ctx, result)
			if outcome.Error != "" {
				zap.L().Warn("crm sync failed", zap.String("domain", result.Domain), zap.String("error", outcome.Error))
			}
		}

		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichSync, "sync", false, "write the result to the matching Salesforce Account")
	rootCmd.AddCommand(enrichCmd)
}
