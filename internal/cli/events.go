package cli

import (
	"fmt"

	"github.com/acarl005/stripansi"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tommytoolman/marketsync/internal/config"
	"github.com/tommytoolman/marketsync/internal/cprint"
	"github.com/tommytoolman/marketsync/internal/model"
)

func newEventsCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List SyncEvents by status for operator review",
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

			st := model.EventStatus(status)
			events, err := app.Store.ListEventsByStatus(ctx, st, limit)
			if err != nil {
				cprint.ErrorPrintlnStdErr("sync events failed:", err)
				return err
			}

			printEvents(events)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(model.EventPending), "event status to list (PENDING, PARTIAL, ERROR, PROCESSED, SKIPPED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to list")
	return cmd
}

func printEvents(events []model.SyncEvent) {
	if len(events) == 0 {
		cprint.HeaderPrintln("no events")
		return
	}
	for _, e := range events {
		// Titles and diff text originate from marketplace payloads; strip
		// any embedded ANSI escapes (a scraped title could legitimately
		// contain raw control bytes) before they ever reach a terminal.
		title := stripansi.Strip(e.ChangeData.Title)
		age := humanize.Time(e.DetectedAt)

		switch e.ChangeType {
		case model.ChangeNewListing:
			cprint.NewListingPrintf("[%s] %s %s external_id=%s %q (%s)\n", e.Platform, e.ChangeType, e.Status, e.ExternalID, title, age)
		case model.ChangeRemovedListing, model.ChangeStatusChange:
			cprint.RemovedPrintf("[%s] %s %s external_id=%s (%s)\n", e.Platform, e.ChangeType, e.Status, e.ExternalID, age)
		default:
			cprint.ChangedPrintf("[%s] %s %s external_id=%s (%s)\n", e.Platform, e.ChangeType, e.Status, e.ExternalID, age)
		}

		if e.Notes.Reason != "" {
			fmt.Printf("    reason: %s\n", stripansi.Strip(e.Notes.Reason))
		}
		if e.Notes.DiffText != "" {
			fmt.Printf("    diff:\n%s\n", indent(stripansi.Strip(e.Notes.DiffText)))
		}
	}
}

func indent(s string) string {
	out := "    "
	for _, r := range s {
		out += string(r)
		if r == '\n' {
			out += "    "
		}
	}
	return out
}
