package tabular

import (
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/model"
)

// WriteReport writes the reconciliation issues to a CSV file for human
// review. An empty issue list still produces a file with the header row
// so downstream tooling sees the run happened.
func WriteReport(path string, issues []model.ReconciliationIssue) error {
	if issues == nil {
		issues = []model.ReconciliationIssue{}
	}

	data, err := csvutil.Marshal(issues)
	if err != nil {
		return eris.Wrap(err, "tabular: marshal reconciliation report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "tabular: write report %s", path)
	}

	zap.L().Info("tabular: reconciliation report written",
		zap.String("path", path),
		zap.Int("issues", len(issues)),
	)
	return nil
}
