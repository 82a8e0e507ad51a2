package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/site-enricher/internal/resilience"
)

var crmFieldsCmd = &cobra.Command{
	Use:   "crm-fields",
	Short: "Check that every mapped Salesforce field exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		syncer, err := initSyncer(resilience.NewLimiters(cfg.RateLimit))
		if err != nil {
			return err
		}

		missing, err := syncer.CheckFields(ctx)
		if err != nil {
			return eris.Wrap(err, "describe crm object")
		}

		out := cmd.OutOrStdout()
		if len(missing) == 0 {
			fmt.Fprintln(out, "all mapped fields exist") //nolint:errcheck
			return nil
		}
		for _, f := range missing {
			fmt.Fprintf(out, "missing: %s\n", f) //nolint:errcheck
		}
		return eris.Errorf("%d mapped field(s) missing; create them in Salesforce Setup", len(missing))
	},
}

func init() {
	rootCmd.AddCommand(crmFieldsCmd)
}
