package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			d, err := newDaemon(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			result, err := d.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d (%s), deleted %d, up to date %d, failed %d, skipped %d in %s\n",
				result.Uploaded(),
				humanize.Bytes(uint64(result.BytesUploaded())),
				result.Deleted(),
				len(result.Plan.UpToDate),
				result.Failed(),
				len(result.Plan.Skipped),
				result.Duration.Round(time.Millisecond),
			)

			if !result.Converged() {
				return fmt.Errorf("%d actions failed, %d files skipped", result.Failed(), len(result.Plan.Skipped))
			}
			return nil
		},
	}
}
