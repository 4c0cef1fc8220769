package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

type compiledMetric struct {
	name string
	re   *regexp.Regexp
}

// MetricExtractor pulls KPI metrics (ARR, runway, headcount, ...) out
// of update-style text via the configured keyword pattern table.
type MetricExtractor struct {
	metrics []compiledMetric
}

// NewMetricExtractor compiles the configured metric patterns.
func NewMetricExtractor(p Patterns) (*MetricExtractor, error) {
	e := &MetricExtractor{}
	for _, mp := range p.MetricPatterns {
		re, err := regexp.Compile(`(?i)` + mp.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: compile metric pattern %q (%s)", mp.Pattern, mp.Name)
		}
		e.metrics = append(e.metrics, compiledMetric{name: mp.Name, re: re})
	}
	return e, nil
}

// Extract returns one normalized value per matched metric: commas
// stripped and k/M suffixes expanded, so "ARR: $15.5M" yields
// {"ARR": "15500000"}.
func (e *MetricExtractor) Extract(text string) map[string]string {
	metrics := make(map[string]string)
	for _, cm := range e.metrics {
		m := cm.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, ok := normalizeMetricValue(m[1]); ok {
			metrics[cm.name] = v
		}
	}
	return metrics
}

func normalizeMetricValue(raw string) (string, bool) {
	s := strings.ReplaceAll(raw, ",", "")
	if s == "" {
		return "", false
	}
	mult := int64(1)
	if m, ok := magnitudes[strings.ToLower(s[len(s)-1:])]; ok {
		mult = m
		s = s[:len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", false
	}
	return d.Mul(decimal.NewFromInt(mult)).String(), true
}
