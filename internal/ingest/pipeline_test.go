package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/blob"
	"github.com/sells-group/portfolio-ingest/internal/extract"
	"github.com/sells-group/portfolio-ingest/internal/model"
	"github.com/sells-group/portfolio-ingest/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSource struct {
	messages map[string]*model.Message
}

func (f *fakeSource) Fetch(ctx context.Context, id string) (*model.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, eris.Errorf("source: message %s not found", id)
	}
	return msg, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	_, err = s.UpsertCompanies(context.Background(), []model.Company{
		{ID: "chapul", LegalName: "Chapul LLC", Website: "https://chapul.com"},
		{ID: "brightwheel", LegalName: "BrightWheel"},
	})
	require.NoError(t, err)
	return s
}

func newTestPipeline(t *testing.T, src *fakeSource, st store.Store, root string) *Pipeline {
	t.Helper()
	ext, err := extract.New(extract.Default())
	require.NoError(t, err)
	return NewPipeline(src, blob.NewFSSink(root), st, ext)
}

func TestPipeline_ProcessMessage(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()

	src := &fakeSource{messages: map[string]*model.Message{
		"msg-1": {
			ID:      "msg-1",
			From:    "founder@chapul.com",
			Subject: "Investment closed",
			Body:    "We invested $750,000 in Chapul. The round closed March 15, 2024. We hold 3.75% fully diluted.",
			Attachments: []model.Attachment{
				{ID: "att-1", Name: "cap_table.xlsx", ContentType: "application/vnd.ms-excel", Content: []byte("fake xlsx")},
			},
		},
	}}
	p := newTestPipeline(t, src, st, root)

	dir, err := p.Directory(context.Background())
	require.NoError(t, err)
	assert.Greater(t, dir.Len(), 0)

	res, err := p.ProcessMessage(context.Background(), dir, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, res.Status)
	assert.GreaterOrEqual(t, res.RecordsCreated["cashflows"], 1)
	assert.GreaterOrEqual(t, res.RecordsCreated["ownerships"], 1)
	assert.Equal(t, 1, res.RecordsCreated["documents"])

	// Raw message and attachment land under the matched company.
	_, err = os.Stat(filepath.Join(root, "Portfolio", "chapul", "Email-Exports", "msg-1.eml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "Portfolio", "chapul", "Finance", "cap_table.xlsx"))
	assert.NoError(t, err)
}

func TestPipeline_UnmatchedMessageIsArchivedAndSkipped(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()

	src := &fakeSource{messages: map[string]*model.Message{
		"msg-2": {
			ID:      "msg-2",
			From:    "noreply@randomnewsletter.example",
			Subject: "Weekly digest",
			Body:    "Nothing about any portfolio company here.",
		},
	}}
	p := newTestPipeline(t, src, st, root)

	dir, err := p.Directory(context.Background())
	require.NoError(t, err)

	res, err := p.ProcessMessage(context.Background(), dir, "msg-2")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSkipped, res.Status)
	assert.Equal(t, 0, res.Created())

	// The raw artifact is still preserved for manual triage.
	_, err = os.Stat(filepath.Join(root, "Portfolio", "_unmatched", "Email-Exports", "msg-2.eml"))
	assert.NoError(t, err)
}

func TestPipeline_ReprocessIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{messages: map[string]*model.Message{
		"msg-3": {
			ID:      "msg-3",
			From:    "founder@chapul.com",
			Subject: "Wire confirmation",
			Body:    "Confirming we invested $250,000, closed January 10, 2024.",
		},
	}}
	p := newTestPipeline(t, src, st, t.TempDir())

	dir, err := p.Directory(context.Background())
	require.NoError(t, err)

	first, err := p.ProcessMessage(context.Background(), dir, "msg-3")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first.Created(), 1)

	second, err := p.ProcessMessage(context.Background(), dir, "msg-3")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created())
}

func TestPipeline_DeadLetter(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, &fakeSource{}, st, t.TempDir())

	p.DeadLetter(context.Background(), "msg-gone", eris.New("source: message msg-gone not found"))

	dls, err := st.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "email", dls[0].SourceType)
	assert.Equal(t, "msg-gone", dls[0].SourceID)
	assert.Contains(t, dls[0].Error, "not found")
}

func TestDocTypeForAttachment(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		want        string
	}{
		{"q3_actuals.XLSX", "", "financial"},
		{"ledger.csv", "", "financial"},
		{"spa_amendment.docx", "", "legal"},
		{"board_update.pdf", "", "update"},
		{"Monthly_Update.docx", "", "update"},
		{"deck.pdf", "", "update"},
		{"export", "text/csv; charset=utf-8", "financial"},
		{"photo.png", "image/png", "document"},
	}
	for _, tc := range cases {
		got := docTypeForAttachment(model.Attachment{Name: tc.name, ContentType: tc.contentType})
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func writeBackfillCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "positions.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestBackfiller_BackfillFile(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	fixed := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	path := writeBackfillCSV(t,
		"Company,Investment Amount,Date,Ownership %,Status,Distributions",
		"Chapul LLC,$750k,2020-09-10,3.75%,Active,$0",
		`"Dude Wipes, Inc.","$1,200,000",2019-03-02,8.2%,Active,"$150,000"`,
		"Total,,,,,",
	)

	b := NewBackfiller(blob.NewFSSink(root), st).WithClock(func() time.Time { return fixed })
	sum, err := b.BackfillFile(context.Background(), path, BackfillOptions{})
	require.NoError(t, err)

	assert.Equal(t, "positions.csv", sum.File)
	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, 2, sum.Persisted)
	// Chapul resolves by name; Dude Wipes is new and flagged.
	assert.Equal(t, 1, sum.Issues)
	assert.Equal(t, 1, sum.RecordsCreated["companies"])
	// Chapul: 1 investment. Dude Wipes: 1 investment + 1 distribution.
	assert.Equal(t, 3, sum.RecordsCreated["cashflows"])
	assert.Equal(t, 2, sum.RecordsCreated["ownerships"])
	assert.Equal(t, 2, sum.RecordsCreated["rounds"])

	// The raw file is archived once, not per row.
	_, err = os.Stat(filepath.Join(root, "Portfolio", "_backfill", "Finance", "positions.csv"))
	assert.NoError(t, err)

	companies, err := st.Companies(context.Background())
	require.NoError(t, err)
	require.Len(t, companies, 3)
}

func TestBackfiller_Idempotent(t *testing.T) {
	st := newTestStore(t)
	fixed := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	path := writeBackfillCSV(t,
		"Company,Investment Amount,Date,Ownership %",
		"Chapul LLC,$750k,2020-09-10,3.75%",
	)

	b := NewBackfiller(nil, st).WithClock(func() time.Time { return fixed })

	first, err := b.BackfillFile(context.Background(), path, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.RecordsCreated["cashflows"])

	second, err := b.BackfillFile(context.Background(), path, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.RecordsCreated["cashflows"])
	assert.Equal(t, 0, second.RecordsCreated["ownerships"])
	assert.Equal(t, 0, second.RecordsCreated["rounds"])
}

func TestBackfiller_UndatedRowYieldsNoRound(t *testing.T) {
	st := newTestStore(t)
	path := writeBackfillCSV(t,
		"Company,Investment Amount,Ownership %",
		"Chapul LLC,$750k,3.75%",
	)

	b := NewBackfiller(nil, st)
	sum, err := b.BackfillFile(context.Background(), path, BackfillOptions{})
	require.NoError(t, err)

	// The investment still lands as a cashflow dated at import time, but
	// a round without a real close date is never recorded.
	assert.Equal(t, 1, sum.RecordsCreated["cashflows"])
	assert.Equal(t, 1, sum.RecordsCreated["ownerships"])
	assert.Equal(t, 0, sum.RecordsCreated["rounds"])
}

func TestBackfiller_DryRun(t *testing.T) {
	st := newTestStore(t)
	path := writeBackfillCSV(t,
		"Company,Investment Amount,Date",
		"Chapul LLC,$750k,2020-09-10",
	)
	report := filepath.Join(t.TempDir(), "report.csv")

	b := NewBackfiller(nil, st)
	sum, err := b.BackfillFile(context.Background(), path, BackfillOptions{DryRun: true, ReportPath: report})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Records)
	assert.Equal(t, 0, sum.Persisted)

	// The reconciliation report is still produced on dry runs.
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "company_name")

	companies, err := st.Companies(context.Background())
	require.NoError(t, err)
	assert.Len(t, companies, 2)
}

func TestBackfiller_ReportListsUnknownCompanies(t *testing.T) {
	st := newTestStore(t)
	report := filepath.Join(t.TempDir(), "report.csv")
	path := writeBackfillCSV(t,
		"Company,Investment Amount,Date,Ownership %",
		"Never Heard Of It Co,$10k,2021-06-01,101%",
	)

	b := NewBackfiller(nil, st)
	sum, err := b.BackfillFile(context.Background(), path, BackfillOptions{ReportPath: report})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Issues)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Company not found in database")
	assert.Contains(t, string(data), "Ownership > 100%")
}
