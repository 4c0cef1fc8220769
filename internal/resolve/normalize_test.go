package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Chapul LLC", "chapul"},
		{"Dude Wipes, Inc.", "dude wipes"},
		{"Mark Cuban Cost Plus Drugs Company", "mark cuban cost plus drugs"},
		{"BeatBox   Beverages", "beatbox beverages"},
		{"Glow Recipe Ltd", "glow recipe"},
		{"ACME Corp.", "acme"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeName(tc.in), "input: %q", tc.in)
	}
}

func TestNormalizeName_Idempotent(t *testing.T) {
	inputs := []string{
		"Chapul LLC",
		"Dude Wipes, Inc.",
		"Company Company",
		"BrightWheel",
		"  Spaced   Out  Co  ",
		"Coca-Cola Corporation",
	}
	for _, in := range inputs {
		once := NormalizeName(in)
		assert.Equal(t, once, NormalizeName(once), "input: %q", in)
	}
}

func TestNormalizeName_SuffixInsideWordKept(t *testing.T) {
	// "Co" is only stripped as a whole word.
	assert.Equal(t, "costco", NormalizeName("Costco"))
	assert.Equal(t, "incline", NormalizeName("Incline"))
}

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Chapul LLC", "chapul-llc"},
		{"Failed Startup Co", "failed-startup-co"},
		{"Mark Cuban Cost Plus Drugs", "mark-cuban-cost-plus-drugs"},
		{"  Weird -- Name!  ", "weird-name"},
		{"A.B. & C", "ab-c"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slug(tc.in), "input: %q", tc.in)
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.chapul.com", "chapul.com"},
		{"http://brightwheel.com/about", "brightwheel.com"},
		{"dudewipes.com", "dudewipes.com"},
		{"WWW.example.com", "www.example.com"}, // prefix strip is case-sensitive, host lowered
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeDomain(tc.in), "input: %q", tc.in)
	}
}
