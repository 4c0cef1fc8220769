package resolve

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/model"
)

type nameEntry struct {
	name string // lowercased legal name or alias
	norm string // NormalizeName of the same
	id   string
}

// Directory is a batch-scoped snapshot of the company directory. Build
// one at the start of a processing batch and discard it at the end; it
// is read-only after construction, so a snapshot is safe to share
// across the batch without locking. Entry order follows load order,
// which makes substring-collision resolution deterministic.
type Directory struct {
	domains map[string]string
	normIdx map[string]string
	entries []nameEntry
}

// NewDirectory builds the lookup tables from the authoritative company
// list. Per company the insertion order is domain, legal name, alias.
func NewDirectory(companies []model.Company) *Directory {
	d := &Directory{
		domains: make(map[string]string),
		normIdx: make(map[string]string),
	}
	for _, c := range companies {
		if c.Website != "" {
			if domain := NormalizeDomain(c.Website); domain != "" {
				if _, dup := d.domains[domain]; !dup {
					d.domains[domain] = c.ID
				}
			}
		}
		d.addName(c.LegalName, c.ID)
		d.addName(c.AKA, c.ID)
	}
	return d
}

func (d *Directory) addName(name, id string) {
	if name == "" {
		return
	}
	norm := NormalizeName(name)
	d.entries = append(d.entries, nameEntry{
		name: strings.ToLower(name),
		norm: norm,
		id:   id,
	})
	if norm != "" {
		if _, dup := d.normIdx[norm]; !dup {
			d.normIdx[norm] = id
		}
	}
}

// Len reports how many name entries the snapshot holds.
func (d *Directory) Len() int { return len(d.entries) }

// MatchMessage resolves an email to a company id. Precedence is strict:
// sender-domain exact match beats any subject/body containment. Returns
// false when nothing matches; the caller skips persistence.
func (d *Directory) MatchMessage(from, subject, body string) (string, bool) {
	if at := strings.LastIndexByte(from, '@'); at >= 0 {
		domain := strings.ToLower(from[at+1:])
		if id, ok := d.domains[domain]; ok {
			return id, true
		}
	}

	text := strings.ToLower(subject + " " + body)
	for _, e := range d.entries {
		if strings.Contains(text, e.name) {
			return e.id, true
		}
	}

	zap.L().Warn("resolve: could not match message to any company",
		zap.String("from", from),
		zap.String("subject", subject),
	)
	return "", false
}

// ResolveName resolves a tabular company cell. Exact normalized match,
// then bidirectional substring containment in entry order, then a
// generated slug. The second return reports whether a directory entry
// matched; a slug is always produced so the row is never dropped.
func (d *Directory) ResolveName(name string) (string, bool) {
	norm := NormalizeName(name)
	if norm != "" {
		if id, ok := d.normIdx[norm]; ok {
			return id, true
		}
		for _, e := range d.entries {
			if e.norm == "" {
				continue
			}
			if strings.Contains(e.norm, norm) || strings.Contains(norm, e.norm) {
				return e.id, true
			}
		}
	}
	return Slug(name), false
}
