package extract

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/model"
)

// notebookLMConfidence reflects lower trust in AI-summarized content.
const notebookLMConfidence = 0.7

// updateConfidence is the fixed score for period updates; metrics are
// keyword-matched and occasionally pick up the wrong number.
const updateConfidence = 0.8

var quarterRe = regexp.MustCompile(`Q([1-4])\s*(\d{4})`)

// Extractor turns one raw message into an extraction envelope: it
// classifies the message, runs the category-specific extraction, then
// runs the amount/date/ownership extractors over the full text.
type Extractor struct {
	cfg        Patterns
	amounts    *AmountExtractor
	dates      *DateExtractor
	metrics    *MetricExtractor
	ownership  *OwnershipExtractor
	classifier *Classifier
	now        func() time.Time
}

// New builds an Extractor from a pattern configuration.
func New(p Patterns) (*Extractor, error) {
	amounts, err := NewAmountExtractor(p)
	if err != nil {
		return nil, err
	}
	dates, err := NewDateExtractor(p)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetricExtractor(p)
	if err != nil {
		return nil, err
	}
	ownership, err := NewOwnershipExtractor(p)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:        p,
		amounts:    amounts,
		dates:      dates,
		metrics:    metrics,
		ownership:  ownership,
		classifier: NewClassifier(p),
		now:        time.Now,
	}, nil
}

// WithClock overrides the time source; tests pin "now" with this.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract builds the envelope for one email message. The returned
// envelope has no company identity; the caller resolves and assigns it.
func (e *Extractor) Extract(msg *model.Message) *model.Envelope {
	full := msg.FullText()
	category := e.classifier.Classify(msg.Subject, msg.Body)

	env := &model.Envelope{
		Source: model.SourcePtr{
			SourceType: model.SourceEmail,
			SourceID:   msg.ID,
			StorageURL: "graph://messages/" + msg.ID,
		},
		Assumptions: []string{"currency defaulted to USD"},
	}

	dates := e.dates.Extract(full)

	switch category {
	case CategoryUpdate:
		env.Facts.Updates = append(env.Facts.Updates, e.extractUpdate(full, msg.ReceivedAt, dates))
	case CategoryNotebookLM:
		env.Facts.Comms = append(env.Facts.Comms, model.Comm{
			Source:     "notebook_lm",
			OccurredAt: e.now(),
			Summary:    truncate(full, e.cfg.CommSummaryLimit),
			Fields:     e.metrics.Extract(full),
			Confidence: notebookLMConfidence,
		})
	case CategoryCapTable:
		if own, ok := e.ownership.Extract(full); ok {
			env.Facts.Ownerships = append(env.Facts.Ownerships, model.Ownership{
				AsOfDate:        e.dateOr(dates, DateAsOf),
				FullyDilutedPct: own.FullyDilutedPct,
				Confidence:      own.Confidence,
			})
		}
	case CategoryFinancials, CategoryBoard:
		// Statement- and deck-specific extraction not implemented yet;
		// the common pass below still runs.
	}

	// Common pass, regardless of category.
	if e.hasCashflowTrigger(full) {
		closeDate := e.dateOr(dates, DateClose)
		for _, am := range e.amounts.Extract(full) {
			env.Facts.Cashflows = append(env.Facts.Cashflows, model.Cashflow{
				Date:       closeDate,
				Kind:       model.CashflowInvestment,
				Amount:     am.Amount,
				Confidence: float64(am.Confidence) / 100,
			})
		}
	}

	if own, ok := e.ownership.Extract(full); ok {
		env.Facts.Ownerships = append(env.Facts.Ownerships, model.Ownership{
			AsOfDate:        e.dateOr(dates, DateAsOf),
			FullyDilutedPct: own.FullyDilutedPct,
			Confidence:      own.Confidence,
		})
	}

	zap.L().Debug("extract: envelope built",
		zap.String("message_id", msg.ID),
		zap.String("category", string(category)),
		zap.Int("cashflows", len(env.Facts.Cashflows)),
		zap.Int("ownerships", len(env.Facts.Ownerships)),
		zap.Int("updates", len(env.Facts.Updates)),
		zap.Float64("confidence", env.OverallConfidence()),
	)

	return env
}

func (e *Extractor) extractUpdate(text string, receivedAt time.Time, dates map[DateType]time.Time) model.Update {
	periodEnd, ok := dates[DatePeriod]
	if !ok {
		periodEnd = receivedAt
	}
	if periodEnd.IsZero() {
		periodEnd = e.now()
	}
	periodStart := periodEnd.AddDate(0, 0, -e.cfg.DefaultPeriodDays)

	reportPeriod := periodEnd.Format("2006-01")
	if m := quarterRe.FindStringSubmatch(text); m != nil {
		reportPeriod = m[2] + "-Q" + m[1]
	}

	return model.Update{
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
		ReportPeriod:       reportPeriod,
		Metrics:            e.metrics.Extract(text),
		QualitativeSummary: truncate(text, e.cfg.SummaryLimit),
		Confidence:         updateConfidence,
	}
}

func (e *Extractor) hasCashflowTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range e.cfg.CashflowTriggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func (e *Extractor) dateOr(dates map[DateType]time.Time, t DateType) time.Time {
	if d, ok := dates[t]; ok {
		return d
	}
	return e.now()
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
