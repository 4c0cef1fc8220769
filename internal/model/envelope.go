package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashflowKind distinguishes money in from money out.
type CashflowKind string

const (
	CashflowInvestment   CashflowKind = "Investment"
	CashflowDistribution CashflowKind = "Distribution"
)

// Cashflow is a dated money movement. Currency is always USD.
type Cashflow struct {
	Date       time.Time       `json:"date"`
	Kind       CashflowKind    `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence float64         `json:"confidence"`
	Notes      string          `json:"notes,omitempty"`
}

// Ownership is a fully-diluted stake snapshot as of a date.
type Ownership struct {
	AsOfDate        time.Time       `json:"as_of_date"`
	FullyDilutedPct decimal.Decimal `json:"fully_diluted_pct"`
	Confidence      float64         `json:"confidence"`
}

// Update is a periodic company update with extracted KPI metrics.
// ReportPeriod is "YYYY-MM" or "YYYY-Qn".
type Update struct {
	PeriodStart        time.Time         `json:"period_start"`
	PeriodEnd          time.Time         `json:"period_end"`
	ReportPeriod       string            `json:"report_period"`
	Metrics            map[string]string `json:"metrics"`
	QualitativeSummary string            `json:"qualitative_summary"`
	Confidence         float64           `json:"confidence"`
}

// Round is a financing round the firm participated in.
type Round struct {
	Type           string           `json:"type"`
	CloseDate      time.Time        `json:"close_date"`
	AmountInvested decimal.Decimal  `json:"amount_invested"`
	PreMoney       *decimal.Decimal `json:"pre_money,omitempty"`
	Confidence     float64          `json:"confidence"`
}

// Document is an archived artifact (attachment, raw export).
// Documents carry no confidence; they are pointers, not assertions.
type Document struct {
	DocID      string `json:"doc_id"`
	StorageURL string `json:"storage_url"`
	Title      string `json:"title"`
	DocType    string `json:"doc_type"`
}

// Comm is a lower-trust communication summary (AI-generated digests).
type Comm struct {
	Source     string            `json:"source"`
	OccurredAt time.Time         `json:"occurred_at"`
	Summary    string            `json:"summary"`
	Fields     map[string]string `json:"extracted_fields,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Facts holds every extracted fact for one envelope, one typed ordered
// list per fact kind.
type Facts struct {
	Cashflows  []Cashflow  `json:"cashflows,omitempty"`
	Ownerships []Ownership `json:"ownerships,omitempty"`
	Updates    []Update    `json:"updates,omitempty"`
	Rounds     []Round     `json:"rounds,omitempty"`
	Documents  []Document  `json:"documents,omitempty"`
	Comms      []Comm      `json:"comms,omitempty"`
}

// SourcePtr identifies the raw record an envelope was extracted from.
type SourcePtr struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	StorageURL string     `json:"storage_url,omitempty"`
}

// Envelope is the unit of work produced by extraction for one message
// or tabular row. It is persisted exactly once and never updated;
// corrections arrive as new envelopes.
type Envelope struct {
	CompanyID   string    `json:"company_id,omitempty"`
	Company     *Company  `json:"company,omitempty"` // set by the tabular path for directory upsert
	Source      SourcePtr `json:"source_ptr"`
	Facts       Facts     `json:"facts"`
	Anomalies   []string  `json:"anomalies,omitempty"`
	Assumptions []string  `json:"assumptions,omitempty"`
}

// OverallConfidence is the arithmetic mean of all fact-level confidences,
// or 0.5 (neutral prior) when no scored facts were extracted. Documents
// are unscored and excluded.
func (e *Envelope) OverallConfidence() float64 {
	var sum float64
	var n int
	for _, f := range e.Facts.Cashflows {
		sum += f.Confidence
		n++
	}
	for _, f := range e.Facts.Ownerships {
		sum += f.Confidence
		n++
	}
	for _, f := range e.Facts.Updates {
		sum += f.Confidence
		n++
	}
	for _, f := range e.Facts.Rounds {
		sum += f.Confidence
		n++
	}
	for _, f := range e.Facts.Comms {
		sum += f.Confidence
		n++
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}
