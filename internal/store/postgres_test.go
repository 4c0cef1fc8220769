package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// anyArgs builds a list of n wildcard matchers; pgxmock requires the
// expected argument count to match even when values are irrelevant.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func investmentEnvelope() *model.Envelope {
	return &model.Envelope{
		CompanyID: "chapul",
		Source: model.SourcePtr{
			SourceType: model.SourceEmail,
			SourceID:   "msg-1",
		},
		Facts: model.Facts{
			Cashflows: []model.Cashflow{{
				Date:       time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
				Kind:       model.CashflowInvestment,
				Amount:     decimal.NewFromInt(750_000),
				Confidence: 0.95,
			}},
			Ownerships: []model.Ownership{{
				AsOfDate:        time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
				FullyDilutedPct: decimal.RequireFromString("3.75"),
				Confidence:      0.85,
			}},
		},
		Assumptions: []string{"currency defaulted to USD"},
	}
}

func TestPersistEnvelope_SkippedWithoutCompany(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock)

	res, err := s.PersistEnvelope(context.Background(), &model.Envelope{
		Source: model.SourcePtr{SourceType: model.SourceEmail, SourceID: "msg-x"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Empty(t, res.RecordsCreated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistEnvelope_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO cashflows").
		WithArgs(anyArgs(9)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("cf-1"))
	mock.ExpectQuery("INSERT INTO ownership_snapshots").
		WithArgs(anyArgs(7)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectExec("INSERT INTO ingestion_log").
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	s := NewPostgresWithPool(mock)
	res, err := s.PersistEnvelope(context.Background(), investmentEnvelope())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, map[string]int{"cashflows": 1, "ownerships": 1}, res.RecordsCreated)
	assert.Equal(t, 2, res.Created())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistEnvelope_IdempotentRerun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Both natural keys conflict: the DO NOTHING insert returns no row
	// and the DO UPDATE reports an overwrite, not an insert. The log
	// row is still appended.
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO cashflows").
		WithArgs(anyArgs(9)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("INSERT INTO ownership_snapshots").
		WithArgs(anyArgs(7)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectExec("INSERT INTO ingestion_log").
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	s := NewPostgresWithPool(mock)
	res, err := s.PersistEnvelope(context.Background(), investmentEnvelope())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 0, res.Created())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistEnvelope_RollbackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO cashflows").
		WithArgs(anyArgs(9)...).
		WillReturnError(fmt.Errorf("deadlock detected"))
	mock.ExpectRollback()

	s := NewPostgresWithPool(mock)
	_, err = s.PersistEnvelope(context.Background(), investmentEnvelope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert cashflow")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistEnvelope_UpsertsCompanyFromTabularPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO companies").
		WithArgs(anyArgs(5)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO cashflows").
		WithArgs(anyArgs(9)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("cf-1"))
	mock.ExpectExec("INSERT INTO ingestion_log").
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	env := &model.Envelope{
		CompanyID: "chapul-llc",
		Company:   &model.Company{ID: "chapul-llc", LegalName: "Chapul LLC"},
		Source:    model.SourcePtr{SourceType: model.SourceCSVImport, SourceID: "backfill.csv:2"},
		Facts: model.Facts{
			Cashflows: []model.Cashflow{{
				Date:       time.Date(2020, 9, 10, 0, 0, 0, 0, time.UTC),
				Kind:       model.CashflowInvestment,
				Amount:     decimal.NewFromInt(750_000),
				Confidence: 1.0,
			}},
		},
	}

	s := NewPostgresWithPool(mock)
	res, err := s.PersistEnvelope(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"companies": 1, "cashflows": 1}, res.RecordsCreated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanies(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, legal_name, aka, website, status FROM companies").
		WillReturnRows(pgxmock.NewRows([]string{"id", "legal_name", "aka", "website", "status"}).
			AddRow("chapul", "Chapul LLC", "", "https://chapul.com", "active").
			AddRow("brightwheel", "BrightWheel", "Bright Wheel Inc", "", "active"))

	s := NewPostgresWithPool(mock)
	companies, err := s.Companies(context.Background())
	require.NoError(t, err)

	require.Len(t, companies, 2)
	assert.Equal(t, "chapul", companies[0].ID)
	assert.Equal(t, "Bright Wheel Inc", companies[1].AKA)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDeadLetter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO dead_letters").
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgresWithPool(mock)
	err = s.RecordDeadLetter(context.Background(), DeadLetter{
		SourceType: "email",
		SourceID:   "msg-9",
		Error:      "store unavailable",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
