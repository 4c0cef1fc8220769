package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portfolio-ingest/internal/store"
)

var (
	dlqLimit  int
	dlqReplay bool
)

var deadlettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List or replay failed ingestion records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !dlqReplay {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			dls, err := st.DeadLetters(ctx, dlqLimit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tSOURCE ID\tCREATED\tERROR")
			for _, dl := range dls {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					dl.ID, dl.SourceType, dl.SourceID,
					dl.CreatedAt.Format("2006-01-02 15:04"), dl.Error)
			}
			return w.Flush()
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		dls, err := env.Store.DeadLetters(ctx, dlqLimit)
		if err != nil {
			return err
		}
		if len(dls) == 0 {
			zap.L().Info("no dead letters to replay")
			return nil
		}
		return replayDeadLetters(ctx, env.Pipeline, env.Store, dls, cfg.Ingest.Workers)
	},
}

// replayDeadLetters re-processes dead-lettered messages and deletes each
// entry whose replay completes, so the queue drains. Entries that fail
// again stay put for the next run; they are not re-recorded, the
// original row already holds the id.
func replayDeadLetters(ctx context.Context, p messageProcessor, st store.Store, dls []store.DeadLetter, workers int) error {
	dir, err := p.Directory(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var replayed, stillFailing atomic.Int64

	for _, dl := range dls {
		if dl.SourceType != "email" {
			zap.L().Warn("deadletters: unknown source type, leaving in place",
				zap.String("id", dl.ID), zap.String("source_type", dl.SourceType))
			continue
		}
		g.Go(func() error {
			log := zap.L().With(zap.String("id", dl.ID), zap.String("message_id", dl.SourceID))

			if _, err := p.ProcessMessage(gctx, dir, dl.SourceID); err != nil {
				stillFailing.Add(1)
				log.Warn("deadletters: replay failed, keeping entry", zap.Error(err))
				return nil
			}
			// A skipped result (unmatched sender) is still resolved: the
			// message was archived and replaying again changes nothing
			// until the directory does.
			if err := st.DeleteDeadLetter(gctx, dl.ID); err != nil {
				log.Warn("deadletters: replayed but delete failed", zap.Error(err))
				return nil
			}
			replayed.Add(1)
			log.Info("deadletters: replayed and cleared")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	zap.L().Info("deadletters: replay complete",
		zap.Int64("replayed", replayed.Load()),
		zap.Int64("still_failing", stillFailing.Load()),
	)
	return nil
}

func init() {
	deadlettersCmd.Flags().IntVar(&dlqLimit, "limit", 50, "max dead letters to list or replay")
	deadlettersCmd.Flags().BoolVar(&dlqReplay, "replay", false, "re-process dead-lettered messages")
	rootCmd.AddCommand(deadlettersCmd)
}
