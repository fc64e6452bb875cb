package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tommytoolman/marketsync/internal/config"
	"github.com/tommytoolman/marketsync/internal/cprint"
)

func newReconcileCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-run reconciliation and dispatch against an existing run's already-detected events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run-id is required")
			}
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			app, err := Build(ctx, cfg)
			if err != nil {
				return err
			}

			plan, err := app.Coordinator.ReconcileOnly(ctx, runID)
			if err != nil {
				cprint.ErrorPrintlnStdErr("sync reconcile failed:", err)
				return err
			}
			cprint.HeaderPrintln(fmt.Sprintf("run %s: %d decisions dispatched, %d outcomes resolved without dispatch", runID, len(plan.Decisions), len(plan.Outcomes)))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "sync run to reconcile (required)")
	return cmd
}
