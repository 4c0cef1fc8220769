package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for inbound message notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := newServeMux(ctx, env.Pipeline, env.Store)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newServeMux(ctx context.Context, p messageProcessor, st store.Store) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := st.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MessageID string `json:"message_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.MessageID == "" {
			http.Error(w, `{"error":"message_id is required"}`, http.StatusBadRequest)
			return
		}

		// Process asynchronously; the notification sender only needs the
		// ack. Failures are dead-lettered for replay.
		go func() {
			dir, err := p.Directory(ctx)
			if err != nil {
				zap.L().Error("webhook: load directory", zap.Error(err))
				return
			}
			res, err := p.ProcessMessage(ctx, dir, req.MessageID)
			if err != nil {
				zap.L().Error("webhook ingestion failed",
					zap.String("message_id", req.MessageID),
					zap.Error(err),
				)
				p.DeadLetter(ctx, req.MessageID, err)
				return
			}
			zap.L().Info("webhook ingestion complete",
				zap.String("message_id", req.MessageID),
				zap.String("status", string(res.Status)),
				zap.Int("records_created", res.Created()),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status":     "accepted",
			"message_id": req.MessageID,
		})
	})

	return mux
}
