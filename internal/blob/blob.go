// Package blob archives raw messages and attachments before fact
// extraction runs, so the original artifact survives any extraction bug.
package blob

import "context"

// Sink stores a raw artifact and returns a stable URL for it.
type Sink interface {
	Store(ctx context.Context, companyID string, data []byte, filename, docType string) (string, error)
}

// folderForDocType maps a document type to its archive folder.
func folderForDocType(docType string) string {
	switch docType {
	case "email":
		return "Email-Exports"
	case "update":
		return "Updates"
	case "financial":
		return "Finance"
	case "legal":
		return "Legal"
	default:
		return "Documents"
	}
}
