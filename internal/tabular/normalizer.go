package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/extract"
	"github.com/sells-group/portfolio-ingest/internal/model"
	"github.com/sells-group/portfolio-ingest/internal/resolve"
)

// Validation bounds. Violations flag the row for review but never drop
// it from the output.
var (
	distributionMultipleLimit = decimal.NewFromInt(10)
	minInvestmentDate         = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
)

// aggregateMarkers identify trailing summary rows by their first cell.
var aggregateMarkers = []string{"total", "summary", "grand"}

// Record is one normalized backfill row.
type Record struct {
	CompanyID   string
	CompanyName string
	SourceRow   int // 1-based spreadsheet row number, header included

	AmountInvested    *decimal.Decimal
	Distributions     *decimal.Decimal
	OwnershipPct      *decimal.Decimal
	InvestmentDate    *time.Time
	RoundType         string
	PreMoneyValuation *decimal.Decimal
	Status            string
}

// Normalizer parses a messy CSV/XLSX file into records plus a
// reconciliation issue list.
type Normalizer struct {
	dir *resolve.Directory
	syn Synonyms
	now func() time.Time
}

// NewNormalizer builds a normalizer over a batch-scoped directory
// snapshot. A nil synonyms table uses the defaults.
func NewNormalizer(dir *resolve.Directory, syn Synonyms) *Normalizer {
	if syn == nil {
		syn = DefaultSynonyms()
	}
	return &Normalizer{dir: dir, syn: syn, now: time.Now}
}

// WithClock overrides the time source used by the future-date check.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// ParseFile reads a CSV or XLSX file and returns normalized records and
// every reconciliation issue found. Rows with an unresolved company are
// still emitted under a generated slug; the issue list is the audit
// trail, not a filter.
func (n *Normalizer) ParseFile(path string) ([]Record, []model.ReconciliationIssue, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	headerIdx := FindHeaderRow(rows, n.syn)
	mapping := MapColumns(rows[headerIdx], n.syn)
	zap.L().Info("tabular: parsed header",
		zap.String("file", filepath.Base(path)),
		zap.Int("header_row", headerIdx),
		zap.Int("mapped_columns", len(mapping)),
	)

	companyCol := -1
	for i, f := range mapping {
		if f == FieldCompany {
			if companyCol == -1 || i < companyCol {
				companyCol = i
			}
		}
	}

	var records []Record
	var issues []model.ReconciliationIssue

	for i, row := range rows[headerIdx+1:] {
		sourceRow := headerIdx + i + 2 // 1-based, header included

		if isAggregateRow(row) {
			continue
		}
		companyName := ""
		if companyCol >= 0 && companyCol < len(row) {
			companyName = strings.TrimSpace(row[companyCol])
		}
		if companyName == "" {
			continue
		}

		rec := Record{CompanyName: companyName, SourceRow: sourceRow}

		companyID, matched := n.dir.ResolveName(companyName)
		rec.CompanyID = companyID
		if !matched {
			issues = append(issues, model.ReconciliationIssue{
				Row:         sourceRow,
				CompanyName: companyName,
				Issue:       "Company not found in database",
				SuggestedID: companyID,
			})
		}

		n.fillRecord(&rec, row, mapping)

		if violations := n.validate(&rec); len(violations) > 0 {
			issues = append(issues, model.ReconciliationIssue{
				Row:         sourceRow,
				CompanyName: companyName,
				Issue:       strings.Join(violations, "; "),
				Raw:         strings.Join(row, "|"),
			})
		}

		records = append(records, rec)
	}

	zap.L().Info("tabular: file normalized",
		zap.String("file", filepath.Base(path)),
		zap.Int("records", len(records)),
		zap.Int("issues", len(issues)),
	)

	return records, issues, nil
}

func (n *Normalizer) fillRecord(rec *Record, row []string, mapping map[int]Field) {
	for col, field := range mapping {
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])

		switch field {
		case FieldAmountInvested:
			rec.AmountInvested = cleanCurrencyCell(value, rec.SourceRow, field)
		case FieldDistributions:
			rec.Distributions = cleanCurrencyCell(value, rec.SourceRow, field)
		case FieldValuation:
			rec.PreMoneyValuation = cleanCurrencyCell(value, rec.SourceRow, field)
		case FieldOwnership:
			if value == "" {
				continue
			}
			pct, err := extract.CleanPercent(value)
			if err != nil {
				zap.L().Warn("tabular: dropping unparseable percentage",
					zap.Int("row", rec.SourceRow), zap.String("value", value))
				continue
			}
			rec.OwnershipPct = &pct
		case FieldDate:
			if value == "" {
				continue
			}
			d, err := ParseDateCell(value)
			if err != nil {
				zap.L().Warn("tabular: missing date",
					zap.Int("row", rec.SourceRow), zap.String("value", value))
				continue
			}
			rec.InvestmentDate = &d
		case FieldRoundType:
			rec.RoundType = value
		case FieldStatus:
			if value == "" {
				rec.Status = "active"
			} else {
				rec.Status = strings.ToLower(value)
			}
		}
	}
}

func cleanCurrencyCell(value string, row int, field Field) *decimal.Decimal {
	if value == "" {
		return nil
	}
	d, err := extract.CleanCurrency(value)
	if err != nil {
		zap.L().Warn("tabular: dropping unparseable currency",
			zap.Int("row", row),
			zap.String("field", string(field)),
			zap.String("value", value),
		)
		return nil
	}
	return &d
}

func (n *Normalizer) validate(rec *Record) []string {
	var violations []string

	if rec.AmountInvested != nil && rec.Distributions != nil {
		if rec.Distributions.GreaterThan(rec.AmountInvested.Mul(distributionMultipleLimit)) {
			violations = append(violations, "Distributions exceed 10x investment")
		}
	}
	if rec.OwnershipPct != nil {
		if rec.OwnershipPct.GreaterThan(decimal.NewFromInt(100)) {
			violations = append(violations, fmt.Sprintf("Ownership > 100%%: %s", rec.OwnershipPct))
		} else if rec.OwnershipPct.IsNegative() {
			violations = append(violations, fmt.Sprintf("Negative ownership: %s", rec.OwnershipPct))
		}
	}
	if rec.InvestmentDate != nil {
		if rec.InvestmentDate.After(n.now()) {
			violations = append(violations, "Future investment date")
		} else if rec.InvestmentDate.Before(minInvestmentDate) {
			violations = append(violations, "Investment date before 1990")
		}
	}

	return violations
}

func isAggregateRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToLower(row[0])
	for _, marker := range aggregateMarkers {
		if strings.Contains(first, marker) {
			return true
		}
	}
	return false
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return readXLSX(path)
	default:
		return readCSV(path)
	}
}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: read %s", path)
	}

	r := csv.NewReader(strings.NewReader(DecodeText(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: parse csv %s", path)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("tabular: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
