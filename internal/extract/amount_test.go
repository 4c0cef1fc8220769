package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newAmounts(t *testing.T) *AmountExtractor {
	t.Helper()
	e, err := NewAmountExtractor(Default())
	require.NoError(t, err)
	return e
}

func amountValues(matches []AmountMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Amount.String()
	}
	return out
}

func TestAmountExtractor_SurfaceForms(t *testing.T) {
	e := newAmounts(t)

	cases := []struct {
		text string
		want string
	}{
		{"wire of $1,234,567.89 received", "1234567.89"},
		{"raised 2.5M this round", "2500000"},
		{"a check for $450k", "450000"},
		{"roughly 15 million dollars", "15000000"},
		{"valued at $1.2B overall", "1200000000"},
		{"sent 1,500 USD yesterday", "1500"},
		{"about 300 dollars", "300"},
	}
	for _, tc := range cases {
		matches := e.Extract(tc.text)
		assert.Contains(t, amountValues(matches), tc.want, "text: %s", tc.text)
	}
}

func TestAmountExtractor_DuplicatesAcrossPatterns(t *testing.T) {
	e := newAmounts(t)

	// "$450k" matches both the $-prefix pattern (as 450) and the
	// magnitude-suffix pattern (as 450000). Both are reported.
	matches := e.Extract("$450k")
	values := amountValues(matches)
	assert.Contains(t, values, "450")
	assert.Contains(t, values, "450000")
}

func TestAmountExtractor_ContextConfidence(t *testing.T) {
	e := newAmounts(t)

	base := e.Extract("the fee was $1,000 this month")
	require.NotEmpty(t, base)
	assert.Equal(t, 90, base[0].Confidence)

	invested := e.Extract("we invested $1,000 in the company")
	require.NotEmpty(t, invested)
	assert.Equal(t, 95, invested[0].Confidence)

	valuation := e.Extract("pre-money of $1,000")
	require.NotEmpty(t, valuation)
	assert.Equal(t, 85, valuation[0].Confidence)
}

func TestAmountExtractor_InvestmentBonusWinsOverValuation(t *testing.T) {
	e := newAmounts(t)

	// Both keyword sets in the same 50-char window: investment wins.
	matches := e.Extract("invested $1,000 at the agreed valuation")
	require.NotEmpty(t, matches)
	assert.Equal(t, 95, matches[0].Confidence)
}

func TestCleanCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"$2,500,000", "2500000"},
		{"$750k", "750000"},
		{"3000000", "3000000"},
		{"1.5M", "1500000"},
		{"$1.2B", "1200000000"},
		{"(1,000)", "-1000"},
		{"($450k)", "-450000"},
		{" $ 12.50 ", "12.5"},
	}
	for _, tc := range cases {
		got, err := CleanCurrency(tc.in)
		require.NoError(t, err, "input: %s", tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "input %s: got %s want %s", tc.in, got, tc.want)
	}
}

func TestCleanCurrency_Unparseable(t *testing.T) {
	for _, in := range []string{"", "N/A", "TBD", "$"} {
		_, err := CleanCurrency(in)
		assert.Error(t, err, "input: %q", in)
	}
}

func TestCleanPercent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"3.75%", "3.75"},
		{"15%", "15"},
		{"0.15", "15"},
		{"1", "100"},
		{"100", "100"},
	}
	for _, tc := range cases {
		got, err := CleanPercent(tc.in)
		require.NoError(t, err, "input: %s", tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "input %s: got %s", tc.in, got)
	}
}

func TestCleanPercent_Unparseable(t *testing.T) {
	_, err := CleanPercent("unknown")
	assert.Error(t, err)
}
