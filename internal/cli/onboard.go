package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tommytoolman/marketsync/internal/config"
	"github.com/tommytoolman/marketsync/internal/cprint"
)

func newOnboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onboard <product-id>",
		Short: "Push a product's DRAFT platform links live, creating new listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid product id %q: %w", args[0], err)
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

			results, err := app.Onboarder.Push(ctx, productID)
			if err != nil {
				cprint.ErrorPrintlnStdErr("sync onboard failed:", err)
				return err
			}
			if len(results) == 0 {
				cprint.HeaderPrintln("no DRAFT links for this product")
				return nil
			}
			for _, r := range results {
				if r.Err != nil {
					cprint.RemovedPrintln(fmt.Sprintf("%s: %v", r.Platform, r.Err))
					continue
				}
				cprint.NewListingPrintln(fmt.Sprintf("%s: listing created", r.Platform))
			}
			return nil
		},
	}
	return cmd
}
