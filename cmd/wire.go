package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-ingest/internal/blob"
	"github.com/sells-group/portfolio-ingest/internal/extract"
	"github.com/sells-group/portfolio-ingest/internal/ingest"
	"github.com/sells-group/portfolio-ingest/internal/source"
	"github.com/sells-group/portfolio-ingest/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "portfolio.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initExtractor() (*extract.Extractor, error) {
	patterns := extract.Default()
	if cfg.Ingest.PatternsPath != "" {
		p, err := extract.LoadPatterns(cfg.Ingest.PatternsPath)
		if err != nil {
			return nil, err
		}
		patterns = p
	}
	return extract.New(patterns)
}

func initSource() (source.MessageSource, error) {
	if cfg.Graph.ClientID == "" {
		return nil, eris.New("graph client ID is required (PORTFOLIO_GRAPH_CLIENT_ID)")
	}
	if cfg.Graph.Mailbox == "" {
		return nil, eris.New("graph mailbox is required (PORTFOLIO_GRAPH_MAILBOX)")
	}
	return source.NewGraph(source.GraphOptions{
		TenantID:      cfg.Graph.TenantID,
		ClientID:      cfg.Graph.ClientID,
		ClientSecret:  cfg.Graph.ClientSecret,
		Mailbox:       cfg.Graph.Mailbox,
		BaseURL:       cfg.Graph.BaseURL,
		TokenURL:      cfg.Graph.TokenURL,
		Timeout:       time.Duration(cfg.Graph.TimeoutSecs) * time.Second,
		RatePerSecond: cfg.Graph.RatePerSecond,
		Retry:         cfg.Ingest.Retry.ToRetryConfig(),
	}), nil
}

// pipelineEnv bundles everything a processing command needs.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *ingest.Pipeline
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	src, err := initSource()
	if err != nil {
		st.Close()
		return nil, err
	}

	ext, err := initExtractor()
	if err != nil {
		st.Close()
		return nil, err
	}

	return &pipelineEnv{
		Store:    st,
		Pipeline: ingest.NewPipeline(src, blob.NewFSSink(cfg.Blob.Root), st, ext),
	}, nil
}
