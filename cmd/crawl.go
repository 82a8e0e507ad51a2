package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/site-enricher/internal/domain"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <domain>",
	Short: "Crawl one website and print the consolidated document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, ok := domain.Normalize(args[0])
		if !ok {
			return eris.Errorf("invalid domain %q", args[0])
		}

		env, err := initEnv(ctx, "crawl")
		if err != nil {
			return err
		}
		defer env.Close()

		en, _ := env.newWorker(nil)
		doc := en.Crawl(ctx, d)
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return eris.Wrap(enc.Encode(v), "write json")
}
