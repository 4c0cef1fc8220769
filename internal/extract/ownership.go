package extract

import (
	"regexp"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ownershipConfidence is the fixed score for pattern-matched stakes;
// percentage phrasing is reliable but the as-of date usually is not.
const ownershipConfidence = 0.85

// OwnershipMatch is a recognized fully-diluted stake.
type OwnershipMatch struct {
	FullyDilutedPct decimal.Decimal
	Confidence      float64
}

// OwnershipExtractor recognizes ownership-percentage phrasing.
type OwnershipExtractor struct {
	patterns []*regexp.Regexp
}

// NewOwnershipExtractor compiles the configured ownership patterns.
func NewOwnershipExtractor(p Patterns) (*OwnershipExtractor, error) {
	e := &OwnershipExtractor{}
	for _, pat := range p.OwnershipPatterns {
		re, err := regexp.Compile(`(?i)` + pat)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: compile ownership pattern %q", pat)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

// Extract returns the first ownership percentage matched by any pattern,
// in pattern order, or false when none match.
func (e *OwnershipExtractor) Extract(text string) (OwnershipMatch, bool) {
	for _, re := range e.patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		pct, err := decimal.NewFromString(m[1])
		if err != nil {
			continue
		}
		return OwnershipMatch{FullyDilutedPct: pct, Confidence: ownershipConfidence}, true
	}
	return OwnershipMatch{}, false
}
