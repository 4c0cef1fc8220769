package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/blob"
	"github.com/sells-group/portfolio-ingest/internal/model"
	"github.com/sells-group/portfolio-ingest/internal/resolve"
	"github.com/sells-group/portfolio-ingest/internal/store"
	"github.com/sells-group/portfolio-ingest/internal/tabular"
)

// backfillConfidence marks operator-curated spreadsheet data, which is
// trusted over anything pattern-extracted from prose.
const backfillConfidence = 1.0

// defaultRoundType is used when a backfill row names no round.
const defaultRoundType = "Unknown"

// BackfillOptions control a tabular import run.
type BackfillOptions struct {
	DryRun     bool
	ReportPath string
}

// BackfillSummary aggregates one file's import run.
type BackfillSummary struct {
	File           string         `json:"file"`
	Records        int            `json:"records"`
	Persisted      int            `json:"persisted"`
	Issues         int            `json:"issues"`
	RecordsCreated map[string]int `json:"records_created,omitempty"`
}

// Backfiller imports legacy spreadsheets: each normalized row becomes
// one envelope, archived and persisted like any other source.
type Backfiller struct {
	sink  blob.Sink
	store store.Store
	now   func() time.Time
}

// NewBackfiller assembles a backfiller. The sink may be nil to skip
// raw-file archiving.
func NewBackfiller(sink blob.Sink, st store.Store) *Backfiller {
	return &Backfiller{sink: sink, store: st, now: time.Now}
}

// WithClock overrides the time source used for undated facts.
func (b *Backfiller) WithClock(now func() time.Time) *Backfiller {
	b.now = now
	return b
}

// BackfillFile normalizes one CSV/XLSX file and persists an envelope
// per row. Rows with reconciliation issues still persist; the issues go
// to the report, not the bin.
func (b *Backfiller) BackfillFile(ctx context.Context, path string, opts BackfillOptions) (*BackfillSummary, error) {
	companies, err := b.store.Companies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load company directory")
	}
	dir := resolve.NewDirectory(companies)

	normalizer := tabular.NewNormalizer(dir, nil).WithClock(b.now)
	records, issues, err := normalizer.ParseFile(path)
	if err != nil {
		return nil, err
	}

	summary := &BackfillSummary{
		File:           filepath.Base(path),
		Records:        len(records),
		Issues:         len(issues),
		RecordsCreated: map[string]int{},
	}

	var storageURL string
	if b.sink != nil && !opts.DryRun {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read backfill file %s", path)
		}
		storageURL, err = b.sink.Store(ctx, "_backfill", raw, filepath.Base(path), "financial")
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: archive backfill file %s", path)
		}
	}

	for _, rec := range records {
		env := b.envelopeFromRecord(rec, summary.File, storageURL)

		if opts.DryRun {
			zap.L().Info("ingest: dry run, envelope not persisted",
				zap.String("company_id", env.CompanyID),
				zap.String("source_id", env.Source.SourceID),
				zap.Int("cashflows", len(env.Facts.Cashflows)),
				zap.Int("rounds", len(env.Facts.Rounds)),
			)
			continue
		}

		res, err := b.store.PersistEnvelope(ctx, env)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: persist row %d of %s", rec.SourceRow, summary.File)
		}
		if res.Status == store.StatusSuccess {
			summary.Persisted++
		}
		for k, v := range res.RecordsCreated {
			summary.RecordsCreated[k] += v
		}
	}

	if opts.ReportPath != "" {
		if err := tabular.WriteReport(opts.ReportPath, issues); err != nil {
			return nil, err
		}
	}

	zap.L().Info("ingest: backfill complete",
		zap.String("file", summary.File),
		zap.Int("records", summary.Records),
		zap.Int("persisted", summary.Persisted),
		zap.Int("issues", summary.Issues),
		zap.Bool("dry_run", opts.DryRun),
	)
	return summary, nil
}

// envelopeFromRecord maps one normalized row to an envelope. Spreadsheet
// rows carry full operator trust, so every fact is confidence 1.0.
func (b *Backfiller) envelopeFromRecord(rec tabular.Record, file, storageURL string) *model.Envelope {
	now := b.now()

	env := &model.Envelope{
		CompanyID: rec.CompanyID,
		Company: &model.Company{
			ID:        rec.CompanyID,
			LegalName: rec.CompanyName,
			Status:    rec.Status,
		},
		Source: model.SourcePtr{
			SourceType: model.SourceCSVImport,
			SourceID:   fmt.Sprintf("%s:%d", file, rec.SourceRow),
			StorageURL: storageURL,
		},
	}

	investDate := now
	if rec.InvestmentDate != nil {
		investDate = *rec.InvestmentDate
	} else {
		env.Anomalies = append(env.Anomalies, "investment date missing, defaulted to import time")
	}

	if rec.AmountInvested != nil {
		env.Facts.Cashflows = append(env.Facts.Cashflows, model.Cashflow{
			Date:       investDate,
			Kind:       model.CashflowInvestment,
			Amount:     *rec.AmountInvested,
			Confidence: backfillConfidence,
		})

		// A round needs a real close date. Rows without one still yield
		// the cashflow (dated at import time, flagged as an anomaly), but
		// a round keyed on a defaulted date would collide across imports.
		if rec.InvestmentDate != nil {
			roundType := rec.RoundType
			if roundType == "" {
				roundType = defaultRoundType
			}
			env.Facts.Rounds = append(env.Facts.Rounds, model.Round{
				Type:           roundType,
				CloseDate:      investDate,
				AmountInvested: *rec.AmountInvested,
				PreMoney:       rec.PreMoneyValuation,
				Confidence:     backfillConfidence,
			})
		}
	}

	// Cumulative distributions have no date of their own; they are
	// recorded as of the import run.
	if rec.Distributions != nil && rec.Distributions.IsPositive() {
		env.Facts.Cashflows = append(env.Facts.Cashflows, model.Cashflow{
			Date:       now,
			Kind:       model.CashflowDistribution,
			Amount:     *rec.Distributions,
			Confidence: backfillConfidence,
			Notes:      "cumulative distributions as of import",
		})
	}

	if rec.OwnershipPct != nil {
		env.Facts.Ownerships = append(env.Facts.Ownerships, model.Ownership{
			AsOfDate:        investDate,
			FullyDilutedPct: *rec.OwnershipPct,
			Confidence:      backfillConfidence,
		})
	}

	return env
}
