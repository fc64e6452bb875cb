package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tommytoolman/marketsync/internal/config"
	"github.com/tommytoolman/marketsync/internal/cprint"
	"github.com/tommytoolman/marketsync/internal/model"
)

func newRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Detect drift against every enabled marketplace and reconcile it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			app, err := Build(ctx, cfg)
			if err != nil {
				return err
			}

			if dryRun {
				return runDryRun(ctx, app)
			}

			run, err := app.Coordinator.Run(ctx)
			printRunSummary(run)
			if err != nil {
				cprint.ErrorPrintlnStdErr("sync run failed:", err)
				if errors.Is(err, context.DeadlineExceeded) {
					return &ExitError{Code: 2, Err: err}
				}
				return &ExitError{Code: 1, Err: err}
			}
			if run.State != model.RunFinalized {
				return &ExitError{Code: 1, Err: fmt.Errorf("run ended in state %s", run.State)}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch every marketplace and report listing counts without writing events or dispatching actions")
	return cmd
}

// runDryRun fetches every adapter once and prints how many listings each
// returned: nothing is persisted and no outbound action is ever attempted.
// It does not diff against the local snapshot, so no events or match
// candidates are previewed.
func runDryRun(ctx context.Context, app *App) error {
	for tag, adapter := range app.Adapters {
		listings, err := adapter.FetchAll(ctx)
		if err != nil {
			cprint.ErrorPrintlnStdErr(fmt.Sprintf("%s: fetch failed: %v", tag, err))
			continue
		}
		cprint.HeaderPrintln(fmt.Sprintf("-- %s: %s fetched --", tag, humanize.Comma(int64(len(listings)))))
	}
	cprint.HeaderPrintln("dry run complete, no events written")
	return nil
}

func printRunSummary(run model.SyncRun) {
	cprint.HeaderPrintln(fmt.Sprintf("run %s finished as %s", run.ID, run.State))
	s := run.Summary
	cprint.NewListingPrintf("detected=%s processed=%s partial=%s error=%s skipped=%s\n",
		humanize.Comma(int64(s.EventsDetected)), humanize.Comma(int64(s.EventsProcessed)),
		humanize.Comma(int64(s.EventsPartial)), humanize.Comma(int64(s.EventsError)), humanize.Comma(int64(s.EventsSkipped)))
	cprint.ChangedPrintf("actions attempted=%s succeeded=%s failed=%s\n",
		humanize.Comma(int64(s.ActionsAttempted)), humanize.Comma(int64(s.ActionsSucceeded)), humanize.Comma(int64(s.ActionsFailed)))
	for tag, p := range s.PerPlatform {
		cprint.ChangedPrintln(fmt.Sprintf("  %s: fetched=%d creates=%d updates=%d removes=%d", tag, p.Fetched, p.Creates, p.Updates, p.Removes))
		if p.DetectionError != "" {
			cprint.RemovedPrintln(fmt.Sprintf("  %s: detection error: %s", tag, p.DetectionError))
		}
	}
	if run.FinishedAt != nil {
		cprint.HeaderPrintln(fmt.Sprintf("took %s", humanize.RelTime(run.StartedAt, *run.FinishedAt, "", "")))
	}
}
