// Package source fetches raw inbound messages from external mailbox
// providers.
package source

import (
	"context"

	"github.com/sells-group/portfolio-ingest/internal/model"
)

// MessageSource yields raw message records by id. Fetch failures (auth,
// not-found) are fatal for that message; the caller decides whether to
// dead-letter.
type MessageSource interface {
	Fetch(ctx context.Context, messageID string) (*model.Message, error)
}
