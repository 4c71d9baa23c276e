package main

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"caseflow-backend/internal/bootstrap"
)

func reconcileCmd() *cobra.Command {
	var (
		refund    bool
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find analysis debits that were never committed or refunded",
		Long: `Scan the ledger for analysis debits older than the grace window that
have no committed analysis version and no refund.

By default orphans are reported and escalated. With --refund each orphan
is refunded and its run settled.

Examples:
  caseflow reconcile
  caseflow reconcile --refund --older-than 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return eris.New("reconcile: DATABASE_URL is required")
			}
			if cmd.Flags().Changed("older-than") {
				cfg.Reconcile.GraceWindow = olderThan
			}

			app, err := bootstrap.Build(cmd.Context(), cfg, bootstrap.Options{})
			if err != nil {
				return err
			}
			if app.DB == nil {
				return eris.New("reconcile: database unavailable")
			}
			defer app.DB.Close()

			report, err := app.Reconciler.Run(cmd.Context(), refund)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().BoolVar(&refund, "refund", false, "refund orphaned debits instead of only reporting them")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only consider debits older than this (default: reconcile.grace_window)")
	return cmd
}
