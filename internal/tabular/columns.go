package tabular

import "strings"

// Field is a canonical spreadsheet column.
type Field string

const (
	FieldCompany        Field = "company"
	FieldAmountInvested Field = "amount_invested"
	FieldDate           Field = "date"
	FieldOwnership      Field = "ownership"
	FieldRoundType      Field = "round_type"
	FieldValuation      Field = "valuation"
	FieldStatus         Field = "status"
	FieldDistributions  Field = "distributions"
)

// fieldOrder fixes the evaluation order for column mapping: the first
// canonical field with a matching synonym claims the header.
var fieldOrder = []Field{
	FieldCompany,
	FieldAmountInvested,
	FieldDate,
	FieldOwnership,
	FieldRoundType,
	FieldValuation,
	FieldStatus,
	FieldDistributions,
}

// Synonyms maps canonical fields to the header variants legal teams
// have actually produced.
type Synonyms map[Field][]string

// DefaultSynonyms returns the built-in header variant table.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		FieldCompany: {
			"Name of Company", "Company Name", "Company", "Portfolio Company",
			"Legal Name", "Entity", "Investment Name", "Name",
		},
		FieldAmountInvested: {
			"Total Amount Invested", "Investment Amount", "Amount Invested",
			"Total Investment", "Amount", "Investment",
			"Total $ Invested", "Investment ($)", "Amount (USD)",
		},
		FieldDate: {
			"Earliest Date of Investment", "Investment Date", "Close Date",
			"First Investment Date", "Initial Investment", "Date", "Closing Date",
			"Transaction Date", "Earliest Date",
		},
		FieldOwnership: {
			"Equity %", "Ownership %", "Ownership Percentage", "Equity Percentage",
			"% Ownership", "Equity", "Stake", "Ownership",
		},
		FieldRoundType: {
			"Round Type", "Investment Type", "Type", "Round", "Series",
			"Investment Round", "Stage",
		},
		FieldValuation: {
			"Pre-Money Valuation", "Pre Money", "Valuation", "Pre-Money",
			"Company Valuation", "Val",
		},
		FieldStatus: {
			"Status", "Company Status", "Current Status", "Investment Status",
			"Active/Inactive", "State",
		},
		FieldDistributions: {
			"Distributions", "Total Distributions", "Distribution Amount",
			"Distributions to Date", "Cash Distributed", "Returns",
		},
	}
}

// headerScanLimit bounds how deep into the file the header search goes.
const headerScanLimit = 20

// headerMatchThreshold is the number of distinct canonical fields that
// must appear in a row for it to be the header.
const headerMatchThreshold = 3

// FindHeaderRow scans the first rows for the one that looks like a
// header: at least three distinct canonical fields matched by synonym
// in the row's concatenated text. Defaults to row 0.
func FindHeaderRow(rows [][]string, syn Synonyms) int {
	for idx, row := range rows {
		if idx >= headerScanLimit {
			break
		}
		rowText := strings.ToLower(strings.Join(row, " "))
		matches := 0
		for _, field := range fieldOrder {
			for _, variant := range syn[field] {
				if strings.Contains(rowText, strings.ToLower(variant)) {
					matches++
					break
				}
			}
		}
		if matches >= headerMatchThreshold {
			return idx
		}
	}
	return 0
}

// MapColumns maps observed headers to canonical fields: for each
// column, the first canonical field (in fixed order) with any synonym
// contained in the header text wins.
func MapColumns(header []string, syn Synonyms) map[int]Field {
	mapping := make(map[int]Field)
	for i, col := range header {
		colClean := strings.ToLower(strings.TrimSpace(col))
		if colClean == "" {
			continue
		}
		for _, field := range fieldOrder {
			matched := false
			for _, variant := range syn[field] {
				if strings.Contains(colClean, strings.ToLower(variant)) {
					mapping[i] = field
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}
	return mapping
}
