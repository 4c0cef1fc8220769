package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

var magnitudes = map[string]int64{
	"k": 1_000,
	"m": 1_000_000,
	"b": 1_000_000_000,
}

// AmountMatch is one recognized monetary quantity. Confidence is an
// integer score 0-100 derived from the surrounding context.
type AmountMatch struct {
	Amount     decimal.Decimal
	Confidence int
}

// AmountExtractor recognizes monetary quantities in free text.
type AmountExtractor struct {
	patterns  []*regexp.Regexp
	investCtx []string
	valueCtx  []string
}

// NewAmountExtractor compiles the configured amount patterns.
func NewAmountExtractor(p Patterns) (*AmountExtractor, error) {
	e := &AmountExtractor{
		investCtx: p.InvestmentContext,
		valueCtx:  p.ValuationContext,
	}
	for _, pat := range p.AmountPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: compile amount pattern %q", pat)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

// Extract returns every amount matched by any pattern, in pattern order.
// Matches are not deduplicated across patterns: a value like "$450k" is
// reported by both the currency-prefix and the magnitude-suffix pattern.
func (e *AmountExtractor) Extract(text string) []AmountMatch {
	var out []AmountMatch
	for _, re := range e.patterns {
		for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
			num := text[idx[2]:idx[3]]
			amount, err := decimal.NewFromString(strings.ReplaceAll(num, ",", ""))
			if err != nil {
				continue
			}
			if len(idx) >= 6 && idx[4] >= 0 {
				suffix := strings.ToLower(text[idx[4]:idx[5]])
				if mult, ok := magnitudes[suffix]; ok {
					amount = amount.Mul(decimal.NewFromInt(mult))
				}
			}
			out = append(out, AmountMatch{
				Amount:     amount,
				Confidence: e.scoreContext(text, idx[0], idx[1]),
			})
		}
	}
	return out
}

// scoreContext inspects the 50-char window around a match. Base 90;
// valuation-flavored context lowers to 85, investment-flavored context
// raises to 95. Investment is checked last and wins when both hit.
func (e *AmountExtractor) scoreContext(text string, start, end int) int {
	lo := start - 50
	if lo < 0 {
		lo = 0
	}
	hi := end + 50
	if hi > len(text) {
		hi = len(text)
	}
	window := strings.ToLower(text[lo:hi])

	confidence := 90
	for _, kw := range e.valueCtx {
		if strings.Contains(window, kw) {
			confidence = 85
			break
		}
	}
	for _, kw := range e.investCtx {
		if strings.Contains(window, kw) {
			confidence = 95
			break
		}
	}
	return confidence
}

var currencyStripRe = regexp.MustCompile(`[$,\s]`)

// CleanCurrency parses a tabular currency cell: strips $, commas and
// whitespace, treats parenthesized values as negative, and applies a
// trailing k/M/B magnitude suffix. A value that still fails to parse is
// an error the caller logs and drops; it never aborts the row.
func CleanCurrency(value string) (decimal.Decimal, error) {
	s := currencyStripRe.ReplaceAllString(value, "")
	if s == "" {
		return decimal.Zero, eris.Errorf("extract: empty currency value %q", value)
	}

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}

	mult := decimal.NewFromInt(1)
	if len(s) > 1 {
		if m, ok := magnitudes[strings.ToLower(s[len(s)-1:])]; ok {
			mult = decimal.NewFromInt(m)
			s = s[:len(s)-1]
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "extract: unparseable currency value %q", value)
	}
	return d.Mul(mult), nil
}

// CleanPercent parses a tabular percentage cell. Values at or below 1
// are treated as decimals (0.15 means 15%); larger values are already
// percentages.
func CleanPercent(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, eris.Errorf("extract: empty percentage value %q", value)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "extract: unparseable percentage value %q", value)
	}
	if d.LessThanOrEqual(decimal.NewFromInt(1)) {
		d = d.Mul(decimal.NewFromInt(100))
	}
	return d, nil
}
