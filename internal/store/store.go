// Package store persists extraction envelopes and the company directory
// behind a single interface with Postgres and SQLite implementations.
package store

import (
	"context"
	"time"

	"github.com/sells-group/portfolio-ingest/internal/model"
)

// PersistStatus is the outcome of one envelope persistence attempt.
type PersistStatus string

const (
	StatusSkipped PersistStatus = "skipped"
	StatusSuccess PersistStatus = "success"
)

// PersistResult reports what one envelope write actually created. A
// re-processed envelope returns success with zero counts; the natural
// keys absorb the duplicates.
type PersistResult struct {
	Status         PersistStatus  `json:"status"`
	RecordsCreated map[string]int `json:"records_created,omitempty"`
}

// Created sums the per-table creation counts.
func (r *PersistResult) Created() int {
	var n int
	for _, c := range r.RecordsCreated {
		n += c
	}
	return n
}

// DeadLetter captures a message that failed fatally so it can be
// replayed after the underlying fault is fixed.
type DeadLetter struct {
	ID         string    `json:"id"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	Error      string    `json:"error"`
	Payload    []byte    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence interface for the ingestion pipeline. It
// doubles as the CompanyDirectory read port and the FactStore write
// port; both sides live in the same schema.
type Store interface {
	// Company directory
	Companies(ctx context.Context) ([]model.Company, error)
	UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error)

	// Facts
	PersistEnvelope(ctx context.Context, env *model.Envelope) (*PersistResult, error)

	// Dead letters
	RecordDeadLetter(ctx context.Context, dl DeadLetter) error
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
