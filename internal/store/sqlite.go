package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/portfolio-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// dry-runs and single-operator installs; Postgres is the production
// target.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	legal_name TEXT NOT NULL,
	aka        TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cashflows (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL REFERENCES companies(id),
	date        DATETIME NOT NULL,
	kind        TEXT NOT NULL,
	amount      TEXT NOT NULL,
	confidence  REAL NOT NULL,
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	notes       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, date, kind, amount)
);

CREATE TABLE IF NOT EXISTS ownership_snapshots (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL REFERENCES companies(id),
	as_of_date        DATETIME NOT NULL,
	fully_diluted_pct TEXT NOT NULL,
	confidence        REAL NOT NULL,
	source_type       TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, as_of_date)
);

CREATE TABLE IF NOT EXISTS company_updates (
	id                  TEXT PRIMARY KEY,
	company_id          TEXT NOT NULL REFERENCES companies(id),
	period_start        DATETIME NOT NULL,
	period_end          DATETIME NOT NULL,
	report_period       TEXT NOT NULL,
	metrics             TEXT NOT NULL DEFAULT '{}',
	qualitative_summary TEXT NOT NULL DEFAULT '',
	confidence          REAL NOT NULL,
	source_type         TEXT NOT NULL,
	source_id           TEXT NOT NULL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, report_period)
);

CREATE TABLE IF NOT EXISTS rounds (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL REFERENCES companies(id),
	type            TEXT NOT NULL,
	close_date      DATETIME NOT NULL,
	amount_invested TEXT NOT NULL,
	pre_money       TEXT,
	confidence      REAL NOT NULL,
	source_type     TEXT NOT NULL,
	source_id       TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, close_date, type)
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL REFERENCES companies(id),
	doc_id      TEXT NOT NULL,
	storage_url TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	doc_type    TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, storage_url)
);

CREATE TABLE IF NOT EXISTS comms (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL REFERENCES companies(id),
	source      TEXT NOT NULL,
	occurred_at DATETIME NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	fields      TEXT NOT NULL DEFAULT '{}',
	confidence  REAL NOT NULL,
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, source, occurred_at)
);

CREATE TABLE IF NOT EXISTS ingestion_log (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	source_id       TEXT NOT NULL,
	storage_url     TEXT NOT NULL DEFAULT '',
	records_created TEXT NOT NULL DEFAULT '{}',
	confidence      REAL NOT NULL,
	anomalies       TEXT NOT NULL DEFAULT '[]',
	assumptions     TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	error       TEXT NOT NULL,
	payload     TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_cashflows_company ON cashflows(company_id);
CREATE INDEX IF NOT EXISTS idx_ownership_company ON ownership_snapshots(company_id);
CREATE INDEX IF NOT EXISTS idx_updates_company ON company_updates(company_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_log_source ON ingestion_log(source_type, source_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Companies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, legal_name, aka, website, status FROM companies ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.LegalName, &c.AKA, &c.Website, &c.Status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin companies tx")
	}
	defer tx.Rollback()

	var n int64
	for _, c := range companies {
		status := c.Status
		if status == "" {
			status = "active"
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO companies (id, legal_name, aka, website, status)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   legal_name = excluded.legal_name,
			   aka = CASE WHEN excluded.aka <> '' THEN excluded.aka ELSE companies.aka END,
			   website = CASE WHEN excluded.website <> '' THEN excluded.website ELSE companies.website END,
			   status = excluded.status,
			   updated_at = datetime('now')`,
			c.ID, c.LegalName, c.AKA, c.Website, status,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert company %s", c.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit companies tx")
	}
	return n, nil
}

func (s *SQLiteStore) PersistEnvelope(ctx context.Context, env *model.Envelope) (*PersistResult, error) {
	if env.CompanyID == "" {
		zap.L().Warn("sqlite: envelope has no company, skipping",
			zap.String("source_id", env.Source.SourceID))
		return &PersistResult{Status: StatusSkipped}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin envelope tx")
	}
	defer tx.Rollback()

	created := map[string]int{}

	if env.Company != nil {
		existed, err := rowExists(ctx, tx, `SELECT 1 FROM companies WHERE id = ?`, env.Company.ID)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: check company")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO companies (id, legal_name, aka, website, status)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   legal_name = excluded.legal_name,
			   aka = CASE WHEN excluded.aka <> '' THEN excluded.aka ELSE companies.aka END,
			   website = CASE WHEN excluded.website <> '' THEN excluded.website ELSE companies.website END,
			   status = excluded.status,
			   updated_at = datetime('now')`,
			env.Company.ID, env.Company.LegalName, env.Company.AKA, env.Company.Website, companyStatus(env.Company),
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert company %s", env.Company.ID)
		}
		if !existed {
			created["companies"]++
		}
	}

	src := env.Source

	for _, f := range env.Facts.Cashflows {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO cashflows (id, company_id, date, kind, amount, confidence, source_type, source_id, notes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, date, kind, amount) DO NOTHING`,
			uuid.New().String(), env.CompanyID, f.Date, string(f.Kind), f.Amount.String(),
			f.Confidence, string(src.SourceType), src.SourceID, f.Notes,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert cashflow")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created["cashflows"]++
		}
	}

	for _, f := range env.Facts.Ownerships {
		existed, err := rowExists(ctx, tx,
			`SELECT 1 FROM ownership_snapshots WHERE company_id = ? AND as_of_date = ?`,
			env.CompanyID, f.AsOfDate,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: check ownership")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ownership_snapshots (id, company_id, as_of_date, fully_diluted_pct, confidence, source_type, source_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, as_of_date) DO UPDATE SET
			   fully_diluted_pct = excluded.fully_diluted_pct,
			   confidence = excluded.confidence,
			   source_type = excluded.source_type,
			   source_id = excluded.source_id`,
			uuid.New().String(), env.CompanyID, f.AsOfDate, f.FullyDilutedPct.String(),
			f.Confidence, string(src.SourceType), src.SourceID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: insert ownership")
		}
		if !existed {
			created["ownerships"]++
		}
	}

	for _, f := range env.Facts.Updates {
		metricsJSON, err := json.Marshal(f.Metrics)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal update metrics")
		}
		existed, err := rowExists(ctx, tx,
			`SELECT 1 FROM company_updates WHERE company_id = ? AND report_period = ?`,
			env.CompanyID, f.ReportPeriod,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: check update")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO company_updates (id, company_id, period_start, period_end, report_period, metrics, qualitative_summary, confidence, source_type, source_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, report_period) DO UPDATE SET
			   period_start = excluded.period_start,
			   period_end = excluded.period_end,
			   metrics = excluded.metrics,
			   qualitative_summary = excluded.qualitative_summary,
			   confidence = excluded.confidence,
			   source_type = excluded.source_type,
			   source_id = excluded.source_id`,
			uuid.New().String(), env.CompanyID, f.PeriodStart, f.PeriodEnd, f.ReportPeriod,
			string(metricsJSON), f.QualitativeSummary, f.Confidence, string(src.SourceType), src.SourceID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: insert update")
		}
		if !existed {
			created["updates"]++
		}
	}

	for _, f := range env.Facts.Rounds {
		var preMoney any
		if f.PreMoney != nil {
			preMoney = f.PreMoney.String()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO rounds (id, company_id, type, close_date, amount_invested, pre_money, confidence, source_type, source_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, close_date, type) DO NOTHING`,
			uuid.New().String(), env.CompanyID, f.Type, f.CloseDate, f.AmountInvested.String(),
			preMoney, f.Confidence, string(src.SourceType), src.SourceID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert round")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created["rounds"]++
		}
	}

	for _, f := range env.Facts.Documents {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, company_id, doc_id, storage_url, title, doc_type, source_type, source_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, storage_url) DO NOTHING`,
			uuid.New().String(), env.CompanyID, f.DocID, f.StorageURL, f.Title, f.DocType,
			string(src.SourceType), src.SourceID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert document")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created["documents"]++
		}
	}

	for _, f := range env.Facts.Comms {
		fieldsJSON, err := json.Marshal(f.Fields)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal comm fields")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO comms (id, company_id, source, occurred_at, summary, fields, confidence, source_type, source_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (company_id, source, occurred_at) DO NOTHING`,
			uuid.New().String(), env.CompanyID, f.Source, f.OccurredAt, f.Summary,
			string(fieldsJSON), f.Confidence, string(src.SourceType), src.SourceID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert comm")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created["comms"]++
		}
	}

	createdJSON, err := json.Marshal(created)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal records_created")
	}
	anomaliesJSON, err := json.Marshal(orEmpty(env.Anomalies))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal anomalies")
	}
	assumptionsJSON, err := json.Marshal(orEmpty(env.Assumptions))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal assumptions")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingestion_log (id, company_id, source_type, source_id, storage_url, records_created, confidence, anomalies, assumptions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), env.CompanyID, string(src.SourceType), src.SourceID, src.StorageURL,
		string(createdJSON), env.OverallConfidence(), string(anomaliesJSON), string(assumptionsJSON),
		time.Now().UTC(),
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: append ingestion log")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit envelope tx")
	}

	return &PersistResult{Status: StatusSuccess, RecordsCreated: created}, nil
}

func (s *SQLiteStore) RecordDeadLetter(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, source_type, source_id, error, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.SourceType, dl.SourceID, dl.Error, string(dl.Payload), dl.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: record dead letter")
}

func (s *SQLiteStore) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_type, source_id, error, payload, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead letters")
	}
	defer rows.Close()

	var entries []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var payload sql.NullString
		if err := rows.Scan(&dl.ID, &dl.SourceType, &dl.SourceID, &dl.Error, &payload, &dl.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dead letter")
		}
		if payload.Valid {
			dl.Payload = []byte(payload.String)
		}
		entries = append(entries, dl)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dead letters iterate")
}

func (s *SQLiteStore) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: delete dead letter")
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
