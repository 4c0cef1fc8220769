package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/db"
	"github.com/sells-group/portfolio-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Fact inserts run once per envelope fact, so they are prepared on each
// new connection.
var preparedStatements = map[string]string{
	"insert_cashflow":  insertCashflowSQL,
	"insert_ownership": insertOwnershipSQL,
	"insert_update":    insertUpdateSQL,
	"insert_round":     insertRoundSQL,
	"insert_document":  insertDocumentSQL,
	"insert_comm":      insertCommSQL,
	"insert_log":       insertLogSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests and by
// callers that manage pool lifecycle themselves.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for bulk operations that
// bypass the store interface (directory imports).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	legal_name TEXT NOT NULL,
	aka        TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cashflows (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL REFERENCES companies(id),
	date        DATE NOT NULL,
	kind        TEXT NOT NULL,
	amount      NUMERIC NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	notes       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, date, kind, amount)
);

CREATE TABLE IF NOT EXISTS ownership_snapshots (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL REFERENCES companies(id),
	as_of_date        DATE NOT NULL,
	fully_diluted_pct NUMERIC NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	source_type       TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, as_of_date)
);

CREATE TABLE IF NOT EXISTS company_updates (
	id                  TEXT PRIMARY KEY,
	company_id          TEXT NOT NULL REFERENCES companies(id),
	period_start        DATE NOT NULL,
	period_end          DATE NOT NULL,
	report_period       TEXT NOT NULL,
	metrics             JSONB NOT NULL DEFAULT '{}',
	qualitative_summary TEXT NOT NULL DEFAULT '',
	confidence          DOUBLE PRECISION NOT NULL,
	source_type         TEXT NOT NULL,
	source_id           TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, report_period)
);

CREATE TABLE IF NOT EXISTS rounds (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL REFERENCES companies(id),
	type            TEXT NOT NULL,
	close_date      DATE NOT NULL,
	amount_invested NUMERIC NOT NULL,
	pre_money       NUMERIC,
	confidence      DOUBLE PRECISION NOT NULL,
	source_type     TEXT NOT NULL,
	source_id       TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, storage_url)
);

CREATE TABLE IF NOT EXISTS comms (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL REFERENCES companies(id),
	source      TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	fields      JSONB NOT NULL DEFAULT '{}',
	confidence  DOUBLE PRECISION NOT NULL,
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, source, occurred_at)
);

CREATE TABLE IF NOT EXISTS ingestion_log (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	source_id       TEXT NOT NULL,
	storage_url     TEXT NOT NULL DEFAULT '',
	records_created JSONB NOT NULL DEFAULT '{}',
	confidence      DOUBLE PRECISION NOT NULL,
	anomalies       JSONB NOT NULL DEFAULT '[]',
	assumptions     JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	error       TEXT NOT NULL,
	payload     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cashflows_company ON cashflows(company_id);
CREATE INDEX IF NOT EXISTS idx_ownership_company ON ownership_snapshots(company_id);
CREATE INDEX IF NOT EXISTS idx_updates_company ON company_updates(company_id);
CREATE INDEX IF NOT EXISTS idx_rounds_company ON rounds(company_id);
CREATE INDEX IF NOT EXISTS idx_documents_company ON documents(company_id);
CREATE INDEX IF NOT EXISTS idx_comms_company ON comms(company_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_log_company ON ingestion_log(company_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_log_source ON ingestion_log(source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_dead_letters_source ON dead_letters(source_type, source_id);
`

const (
	insertCashflowSQL = `INSERT INTO cashflows (id, company_id, date, kind, amount, confidence, source_type, source_id, notes)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	 ON CONFLICT (company_id, date, kind, amount) DO NOTHING
	 RETURNING id`

	insertOwnershipSQL = `INSERT INTO ownership_snapshots (id, company_id, as_of_date, fully_diluted_pct, confidence, source_type, source_id)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)
	 ON CONFLICT (company_id, as_of_date) DO UPDATE SET
	   fully_diluted_pct = EXCLUDED.fully_diluted_pct,
	   confidence = EXCLUDED.confidence,
	   source_type = EXCLUDED.source_type,
	   source_id = EXCLUDED.source_id
	 RETURNING (xmax = 0)`

	insertUpdateSQL = `INSERT INTO company_updates (id, company_id, period_start, period_end, report_period, metrics, qualitative_summary, confidence, source_type, source_id)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	 ON CONFLICT (company_id, report_period) DO UPDATE SET
	   period_start = EXCLUDED.period_start,
	   period_end = EXCLUDED.period_end,
	   metrics = EXCLUDED.metrics,
	   qualitative_summary = EXCLUDED.qualitative_summary,
	   confidence = EXCLUDED.confidence,
	   source_type = EXCLUDED.source_type,
	   source_id = EXCLUDED.source_id
	 RETURNING (xmax = 0)`

	insertRoundSQL = `INSERT INTO rounds (id, company_id, type, close_date, amount_invested, pre_money, confidence, source_type, source_id)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	 ON CONFLICT (company_id, close_date, type) DO NOTHING
	 RETURNING id`

	insertDocumentSQL = `INSERT INTO documents (id, company_id, doc_id, storage_url, title, doc_type, source_type, source_id)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	 ON CONFLICT (company_id, storage_url) DO NOTHING
	 RETURNING id`

	insertCommSQL = `INSERT INTO comms (id, company_id, source, occurred_at, summary, fields, confidence, source_type, source_id)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	 ON CONFLICT (company_id, source, occurred_at) DO NOTHING
	 RETURNING id`

	insertLogSQL = `INSERT INTO ingestion_log (id, company_id, source_type, source_id, storage_url, records_created, confidence, anomalies, assumptions, created_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	upsertCompanySQL = `INSERT INTO companies (id, legal_name, aka, website, status, created_at, updated_at)
	 VALUES ($1, $2, $3, $4, $5, now(), now())
	 ON CONFLICT (id) DO UPDATE SET
	   legal_name = EXCLUDED.legal_name,
	   aka = CASE WHEN EXCLUDED.aka <> '' THEN EXCLUDED.aka ELSE companies.aka END,
	   website = CASE WHEN EXCLUDED.website <> '' THEN EXCLUDED.website ELSE companies.website END,
	   status = EXCLUDED.status,
	   updated_at = now()
	 RETURNING (xmax = 0)`
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Companies lists the authoritative directory in load order, which the
// resolver depends on for deterministic collision breaking.
func (s *PostgresStore) Companies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, legal_name, aka, website, status FROM companies ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.LegalName, &c.AKA, &c.Website, &c.Status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

// UpsertCompanies bulk-loads the directory via temp table + COPY.
func (s *PostgresStore) UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error) {
	rows := make([][]any, 0, len(companies))
	for _, c := range companies {
		status := c.Status
		if status == "" {
			status = "active"
		}
		rows = append(rows, []any{c.ID, c.LegalName, c.AKA, c.Website, status})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:           "companies",
		Columns:         []string{"id", "legal_name", "aka", "website", "status"},
		ConflictKeys:    []string{"id"},
		PreserveOnEmpty: []string{"aka", "website"},
		Touch:           "updated_at",
	}, rows)
}

// PersistEnvelope writes every fact in the envelope in one transaction.
// Natural-key conflicts are silent no-ops, so re-processing the same
// source never double-counts. The ingestion-log row is appended last
// inside the same transaction and records what actually happened even
// when every fact hit a conflict.
func (s *PostgresStore) PersistEnvelope(ctx context.Context, env *model.Envelope) (*PersistResult, error) {
	if env.CompanyID == "" {
		zap.L().Warn("postgres: envelope has no company, skipping",
			zap.String("source_id", env.Source.SourceID))
		return &PersistResult{Status: StatusSkipped}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin envelope tx")
	}
	defer tx.Rollback(ctx)

	created := map[string]int{}

	if env.Company != nil {
		var inserted bool
		if err := tx.QueryRow(ctx, upsertCompanySQL,
			env.Company.ID, env.Company.LegalName, env.Company.AKA, env.Company.Website, companyStatus(env.Company),
		).Scan(&inserted); err != nil {
			return nil, eris.Wrapf(err, "postgres: upsert company %s", env.Company.ID)
		}
		if inserted {
			created["companies"]++
		}
	}

	src := env.Source

	for _, f := range env.Facts.Cashflows {
		ok, err := insertIgnoringDup(ctx, tx, insertCashflowSQL,
			uuid.New().String(), env.CompanyID, f.Date, string(f.Kind), f.Amount.String(),
			f.Confidence, string(src.SourceType), src.SourceID, f.Notes,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert cashflow")
		}
		if ok {
			created["cashflows"]++
		}
	}

	for _, f := range env.Facts.Ownerships {
		var inserted bool
		if err := tx.QueryRow(ctx, insertOwnershipSQL,
			uuid.New().String(), env.CompanyID, f.AsOfDate, f.FullyDilutedPct.String(),
			f.Confidence, string(src.SourceType), src.SourceID,
		).Scan(&inserted); err != nil {
			return nil, eris.Wrap(err, "postgres: insert ownership")
		}
		if inserted {
			created["ownerships"]++
		}
	}

	for _, f := range env.Facts.Updates {
		metricsJSON, err := json.Marshal(f.Metrics)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal update metrics")
		}
		var inserted bool
		if err := tx.QueryRow(ctx, insertUpdateSQL,
			uuid.New().String(), env.CompanyID, f.PeriodStart, f.PeriodEnd, f.ReportPeriod,
			metricsJSON, f.QualitativeSummary, f.Confidence, string(src.SourceType), src.SourceID,
		).Scan(&inserted); err != nil {
			return nil, eris.Wrap(err, "postgres: insert update")
		}
		if inserted {
			created["updates"]++
		}
	}

	for _, f := range env.Facts.Rounds {
		var preMoney any
		if f.PreMoney != nil {
			preMoney = f.PreMoney.String()
		}
		ok, err := insertIgnoringDup(ctx, tx, insertRoundSQL,
			uuid.New().String(), env.CompanyID, f.Type, f.CloseDate, f.AmountInvested.String(),
			preMoney, f.Confidence, string(src.SourceType), src.SourceID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert round")
		}
		if ok {
			created["rounds"]++
		}
	}

	for _, f := range env.Facts.Documents {
		ok, err := insertIgnoringDup(ctx, tx, insertDocumentSQL,
			uuid.New().String(), env.CompanyID, f.DocID, f.StorageURL, f.Title, f.DocType,
			string(src.SourceType), src.SourceID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert document")
		}
		if ok {
			created["documents"]++
		}
	}

	for _, f := range env.Facts.Comms {
		fieldsJSON, err := json.Marshal(f.Fields)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal comm fields")
		}
		ok, err := insertIgnoringDup(ctx, tx, insertCommSQL,
			uuid.New().String(), env.CompanyID, f.Source, f.OccurredAt, f.Summary,
			fieldsJSON, f.Confidence, string(src.SourceType), src.SourceID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert comm")
		}
		if ok {
			created["comms"]++
		}
	}

	if err := appendIngestionLog(ctx, tx, env, created); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit envelope tx")
	}

	return &PersistResult{Status: StatusSuccess, RecordsCreated: created}, nil
}

func (s *PostgresStore) RecordDeadLetter(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letters (id, source_type, source_id, error, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		dl.ID, dl.SourceType, dl.SourceID, dl.Error, dl.Payload, dl.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record dead letter")
}

func (s *PostgresStore) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_type, source_id, error, payload, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead letters")
	}
	defer rows.Close()

	var entries []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.SourceType, &dl.SourceID, &dl.Error, &dl.Payload, &dl.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		entries = append(entries, dl)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dead letters iterate")
}

// DeleteDeadLetter removes a replayed entry so the queue drains.
func (s *PostgresStore) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: delete dead letter")
}

// insertIgnoringDup runs a DO NOTHING upsert and reports whether a row
// was actually created. RETURNING produces no row on conflict.
func insertIgnoringDup(ctx context.Context, tx pgx.Tx, sql string, args ...any) (bool, error) {
	var id string
	err := tx.QueryRow(ctx, sql, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func appendIngestionLog(ctx context.Context, tx pgx.Tx, env *model.Envelope, created map[string]int) error {
	createdJSON, err := json.Marshal(created)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal records_created")
	}
	anomaliesJSON, err := json.Marshal(orEmpty(env.Anomalies))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal anomalies")
	}
	assumptionsJSON, err := json.Marshal(orEmpty(env.Assumptions))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal assumptions")
	}

	_, err = tx.Exec(ctx, insertLogSQL,
		uuid.New().String(), env.CompanyID, string(env.Source.SourceType), env.Source.SourceID,
		env.Source.StorageURL, createdJSON, env.OverallConfidence(), anomaliesJSON, assumptionsJSON,
		time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: append ingestion log")
}

func companyStatus(c *model.Company) string {
	if c.Status == "" {
		return "active"
	}
	return c.Status
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
