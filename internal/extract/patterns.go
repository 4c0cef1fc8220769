// Package extract pulls structured financial facts out of unstructured
// portfolio communications: monetary amounts, dates, ownership stakes,
// KPI metrics, and a message-level category.
package extract

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DateType labels what a date expression refers to.
type DateType string

const (
	DateClose  DateType = "close_date"
	DateAsOf   DateType = "as_of_date"
	DatePeriod DateType = "period"
)

// DateKeywordSet is the ordered keyword list searched for one date type.
// The first keyword with a parseable trailing date wins.
type DateKeywordSet struct {
	Type     DateType `yaml:"type"`
	Keywords []string `yaml:"keywords"`
}

// MetricPattern maps a canonical metric name to the regex that captures
// its value. Patterns are evaluated in order; first match per metric.
type MetricPattern struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// ClassifierRule is one (predicate, category) pair. Rules are evaluated
// in order, first match wins.
type ClassifierRule struct {
	Category        Category `yaml:"category"`
	SubjectContains []string `yaml:"subject_contains"`
	BodyContains    []string `yaml:"body_contains"`
}

// Patterns is the immutable extraction configuration. Construct with
// Default and pass into each extractor; tests override individual
// fields instead of mutating process-wide state.
type Patterns struct {
	// AmountPatterns are tried in order. Each must capture the numeric
	// value as group 1 and, if present, a k/K/m/M/b/B magnitude letter
	// as group 2. Matches are not deduplicated across patterns.
	AmountPatterns []string `yaml:"amount_patterns"`

	// InvestmentContext raises amount confidence to 95 when found in
	// the 50-char window around a match; ValuationContext lowers it to
	// 85. When both hit the same window the investment bonus wins (the
	// checks run valuation first, investment last).
	InvestmentContext []string `yaml:"investment_context"`
	ValuationContext  []string `yaml:"valuation_context"`

	// CashflowTriggers gate recording matched amounts as Investment
	// cashflows: at least one trigger must appear in the full text.
	CashflowTriggers []string `yaml:"cashflow_triggers"`

	DateKeywords      []DateKeywordSet `yaml:"date_keywords"`
	OwnershipPatterns []string         `yaml:"ownership_patterns"`
	MetricPatterns    []MetricPattern  `yaml:"metric_patterns"`
	ClassifierRules   []ClassifierRule `yaml:"classifier_rules"`

	// SummaryLimit truncates the qualitative summary of update facts;
	// CommSummaryLimit truncates AI-digest comm summaries.
	SummaryLimit     int `yaml:"summary_limit"`
	CommSummaryLimit int `yaml:"comm_summary_limit"`

	// DefaultPeriodDays is the window assumed for an update whose
	// period start cannot be derived (monthly cadence by default).
	DefaultPeriodDays int `yaml:"default_period_days"`
}

// Default returns the built-in pattern tables.
func Default() Patterns {
	return Patterns{
		AmountPatterns: []string{
			`\$([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{1,2})?)`,
			`([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{1,2})?)\s*(?:USD|dollars?)`,
			`([0-9]+(?:\.[0-9]+)?)\s*([kKmMbB])(?:illion)?\b(?:\s*(?:USD|dollars?))?`,
		},
		InvestmentContext: []string{"invested", "investment", "amount"},
		ValuationContext:  []string{"pre-money", "post-money", "valuation"},
		CashflowTriggers:  []string{"invested", "investment"},
		DateKeywords: []DateKeywordSet{
			{Type: DateClose, Keywords: []string{"closed", "closing date", "close date", "completed on"}},
			{Type: DateAsOf, Keywords: []string{"as of", "as at", "ownership as of", "cap table dated"}},
			{Type: DatePeriod, Keywords: []string{"for the period", "quarter ending", "month ending", "YTD through"}},
		},
		OwnershipPatterns: []string{
			`([0-9]+(?:\.[0-9]+)?)\s*%\s*(?:on\s+a\s+)?fully[\s-]diluted`,
			`([0-9]+(?:\.[0-9]+)?)\s*%\s*(?:ownership|equity|stake)`,
			`(?:ownership|equity|stake)[:\s]+(?:of\s*)?([0-9]+(?:\.[0-9]+)?)\s*%`,
			`(?:owns?|holds?)\s*([0-9]+(?:\.[0-9]+)?)\s*%`,
			`fully[\s-]diluted\s*(?:ownership|basis)?\s*(?:of\s*)?([0-9]+(?:\.[0-9]+)?)\s*%`,
		},
		MetricPatterns: []MetricPattern{
			{Name: "ARR", Pattern: `ARR[:\s]*\$?([0-9,]+(?:\.[0-9]+)?[kKmM]?)`},
			{Name: "revenue", Pattern: `revenue[:\s]*\$?([0-9,]+(?:\.[0-9]+)?[kKmM]?)`},
			{Name: "runway_months", Pattern: `runway[:\s]*([0-9]+)\s*months?`},
			{Name: "headcount", Pattern: `(?:headcount|employees?|team size)[:\s]*([0-9]+)`},
			{Name: "burn_rate", Pattern: `burn\s*(?:rate)?[:\s]*\$?([0-9,]+(?:\.[0-9]+)?[kKmM]?)`},
			{Name: "cash", Pattern: `cash\s*(?:balance)?[:\s]*\$?([0-9,]+(?:\.[0-9]+)?[kKmM]?)`},
			{Name: "churn", Pattern: `churn[:\s]*([0-9]+(?:\.[0-9]+)?)\s*%`},
		},
		ClassifierRules: []ClassifierRule{
			{Category: CategoryUpdate, SubjectContains: []string{"[update]", "monthly update"}},
			{Category: CategoryFinancials, SubjectContains: []string{"[financials]"}, BodyContains: []string{"financial statements"}},
			{Category: CategoryBoard, SubjectContains: []string{"[board]"}, BodyContains: []string{"board deck"}},
			{Category: CategoryNotebookLM, SubjectContains: []string{"[notebooklm]"}, BodyContains: []string{"notebook lm"}},
			{Category: CategoryCapTable, SubjectContains: []string{"[captable]"}, BodyContains: []string{"cap table"}},
		},
		SummaryLimit:      500,
		CommSummaryLimit:  1000,
		DefaultPeriodDays: 30,
	}
}

// LoadPatterns reads a YAML override file on top of the defaults. Only
// fields present in the file replace their default values.
func LoadPatterns(path string) (Patterns, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "extract: read patterns file %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrapf(err, "extract: parse patterns file %s", path)
	}
	if p.SummaryLimit <= 0 {
		p.SummaryLimit = 500
	}
	if p.CommSummaryLimit <= 0 {
		p.CommSummaryLimit = 1000
	}
	if p.DefaultPeriodDays <= 0 {
		p.DefaultPeriodDays = 30
	}
	return p, nil
}
