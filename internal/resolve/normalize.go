// Package resolve maps free-text company references (sender domains,
// legal names, aliases, messy spreadsheet cells) to canonical company
// identifiers.
package resolve

import (
	"regexp"
	"strings"
)

var (
	legalSuffixRe = regexp.MustCompile(`(?i)\b(LLC|Inc|Corp|Corporation|Ltd|Limited|Co|Company)\b`)
	punctRe       = regexp.MustCompile(`[^\w\s]`)
	slugStripRe   = regexp.MustCompile(`[^\w\s-]`)
	slugDashRe    = regexp.MustCompile(`[-\s]+`)
)

// NormalizeName standardizes a company name for matching: legal-entity
// suffixes removed as whole words, punctuation stripped, whitespace
// collapsed, lowercased. The function is idempotent.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	name = legalSuffixRe.ReplaceAllString(name, "")
	name = punctRe.ReplaceAllString(name, "")
	name = strings.Join(strings.Fields(name), " ")
	return strings.ToLower(name)
}

// Slug derives a deterministic company identifier from a raw name when
// no directory entry matches: lowercased, non-word characters stripped,
// runs of spaces and hyphens collapsed to a single hyphen.
func Slug(name string) string {
	s := strings.ToLower(name)
	s = slugStripRe.ReplaceAllString(s, "")
	s = slugDashRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NormalizeDomain strips protocol, www prefix and path from a website
// URL, leaving the bare host for sender-domain matching.
func NormalizeDomain(rawURL string) string {
	d := strings.TrimSpace(rawURL)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return strings.ToLower(d)
}
