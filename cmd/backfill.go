package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/blob"
	"github.com/sells-group/portfolio-ingest/internal/ingest"
)

var (
	backfillDryRun bool
	backfillReport string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <file>...",
	Short: "Import legacy CSV/XLSX position spreadsheets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		b := ingest.NewBackfiller(blob.NewFSSink(cfg.Blob.Root), st)

		// Files run sequentially: each run rebuilds the directory so a
		// company created by one file resolves in the next.
		for _, path := range args {
			sum, err := b.BackfillFile(ctx, path, ingest.BackfillOptions{
				DryRun:     backfillDryRun,
				ReportPath: backfillReport,
			})
			if err != nil {
				return err
			}
			zap.L().Info("backfill file done",
				zap.String("file", sum.File),
				zap.Int("records", sum.Records),
				zap.Int("persisted", sum.Persisted),
				zap.Int("issues", sum.Issues),
			)
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "parse and validate without persisting")
	backfillCmd.Flags().StringVar(&backfillReport, "report", "", "write reconciliation issues to this CSV file")
	rootCmd.AddCommand(backfillCmd)
}
