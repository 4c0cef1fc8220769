package model

// ReconciliationIssue flags a record that needs human review. Issues are
// append-only audit artifacts; they never block the pipeline and are
// written to a report, not a transactional table.
type ReconciliationIssue struct {
	Row         int    `csv:"row" json:"row,omitempty"`
	SourceRef   string `csv:"source_ref" json:"source_ref,omitempty"`
	CompanyName string `csv:"company_name" json:"company_name"`
	Issue       string `csv:"issue" json:"issue"`
	SuggestedID string `csv:"suggested_id" json:"suggested_id,omitempty"`
	Raw         string `csv:"raw" json:"raw,omitempty"`
}
