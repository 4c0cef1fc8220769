package extract

import (
	"regexp"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// trailingDate matches either "Month D, YYYY" or "D/M/YY(YY)" (with /
// or - separators) immediately after a keyword.
const trailingDate = `[:\s]*([A-Za-z]+ \d{1,2},? \d{4}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`

type keywordPattern struct {
	dateType DateType
	re       *regexp.Regexp
}

// DateExtractor finds labeled date expressions in free text.
type DateExtractor struct {
	patterns []keywordPattern
}

// NewDateExtractor compiles one pattern per configured keyword,
// preserving keyword order within each date type.
func NewDateExtractor(p Patterns) (*DateExtractor, error) {
	e := &DateExtractor{}
	for _, set := range p.DateKeywords {
		for _, kw := range set.Keywords {
			re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(kw) + trailingDate)
			if err != nil {
				return nil, eris.Wrapf(err, "extract: compile date keyword %q", kw)
			}
			e.patterns = append(e.patterns, keywordPattern{dateType: set.Type, re: re})
		}
	}
	return e, nil
}

// Extract returns at most one parsed date per date type. For each type
// the keywords are searched in configured order; the first keyword with
// a parseable trailing date wins and the search for that type stops.
// Unparseable trailing text is skipped, never fatal.
func (e *DateExtractor) Extract(text string) map[DateType]time.Time {
	dates := make(map[DateType]time.Time)
	for _, kp := range e.patterns {
		if _, done := dates[kp.dateType]; done {
			continue
		}
		for _, m := range kp.re.FindAllStringSubmatch(text, -1) {
			parsed, err := dateparse.ParseAny(m[1])
			if err != nil {
				zap.L().Debug("extract: skipping unparseable date",
					zap.String("raw", m[1]),
					zap.String("date_type", string(kp.dateType)),
				)
				continue
			}
			dates[kp.dateType] = parsed
			break
		}
	}
	return dates
}
