package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portfolio-ingest/internal/ingest"
	"github.com/sells-group/portfolio-ingest/internal/resolve"
	"github.com/sells-group/portfolio-ingest/internal/store"
)

var ingestWorkers int

var ingestCmd = &cobra.Command{
	Use:   "ingest <message-id>...",
	Short: "Process inbound messages by Graph message id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		workers := ingestWorkers
		if workers == 0 {
			workers = cfg.Ingest.Workers
		}

		return processMessages(ctx, env.Pipeline, args, workers)
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "concurrent message workers (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

// messageProcessor is the per-message unit of work; the production
// implementation is ingest.Pipeline.
type messageProcessor interface {
	Directory(ctx context.Context) (*resolve.Directory, error)
	ProcessMessage(ctx context.Context, dir *resolve.Directory, messageID string) (*store.PersistResult, error)
	DeadLetter(ctx context.Context, messageID string, cause error)
}

var _ messageProcessor = (*ingest.Pipeline)(nil)

// processMessages fans message ids out over a bounded worker pool. One
// failed message is dead-lettered, not fatal to the batch; the directory
// snapshot is shared read-only across workers.
func processMessages(ctx context.Context, p messageProcessor, messageIDs []string, workers int) error {
	dir, err := p.Directory(ctx)
	if err != nil {
		return err
	}

	zap.L().Info("processing messages",
		zap.Int("messages", len(messageIDs)),
		zap.Int("workers", workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var succeeded, skipped, failed atomic.Int64

	for _, id := range messageIDs {
		g.Go(func() error {
			log := zap.L().With(zap.String("message_id", id))

			res, err := p.ProcessMessage(gctx, dir, id)
			if err != nil {
				failed.Add(1)
				log.Error("message processing failed", zap.Error(err))
				p.DeadLetter(gctx, id, err)
				return nil // don't abort the batch on individual failure
			}

			if res.Status == store.StatusSkipped {
				skipped.Add(1)
				return nil
			}
			succeeded.Add(1)
			log.Info("message persisted", zap.Int("records_created", res.Created()))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("skipped", skipped.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
