package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FSSink writes artifacts to a local directory tree mirroring the
// shared-drive layout: <root>/Portfolio/<company>/<folder>/<filename>.
type FSSink struct {
	root string
}

// NewFSSink creates a filesystem sink rooted at dir.
func NewFSSink(dir string) *FSSink {
	return &FSSink{root: dir}
}

func (s *FSSink) Store(ctx context.Context, companyID string, data []byte, filename, docType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "blob: store cancelled")
	}
	if companyID == "" {
		companyID = "_unmatched"
	}

	dir := filepath.Join(s.root, "Portfolio", companyID, folderForDocType(docType))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: create %s", dir)
	}

	path := filepath.Join(dir, sanitizeFilename(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "blob: write %s", path)
	}

	zap.L().Debug("blob: stored artifact",
		zap.String("company_id", companyID),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return "file://" + path, nil
}

// sanitizeFilename strips path separators so an attachment name can
// never escape its archive folder.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "_" {
		name = "unnamed"
	}
	return name
}
