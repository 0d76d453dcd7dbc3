package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/property-import/internal/db"
	"github.com/sells-group/property-import/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlConsumeCredits = `UPDATE credit_accounts SET used = used + $2, updated_at = $3 WHERE account_id = $1 AND (quota IS NULL OR used + $2 <= quota)`
	sqlInsertUsage    = `INSERT INTO usage_records (id, account_id, batch_id, operation_type, document_type, file_name, file_size_bytes, credits_used, provider_used, success, error_message, processing_time_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	sqlSaveJob        = `INSERT INTO batch_jobs (id, account_id, state, data, started_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	sqlSelectProperty = `SELECT id, account_id, address, normalized_address, fields, field_confidences, field_sources, source_files, created_at, updated_at FROM property_records`
	sqlSelectAccount  = `SELECT account_id, quota, used, reset_at, personal_credential_mode FROM credit_accounts WHERE account_id = $1`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	account_id               TEXT PRIMARY KEY,
	quota                    INTEGER CHECK (quota IS NULL OR quota >= 0),
	used                     INTEGER NOT NULL DEFAULT 0 CHECK (used >= 0),
	reset_at                 TIMESTAMPTZ,
	personal_credential_mode BOOLEAN NOT NULL DEFAULT false,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_records (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	batch_id           TEXT NOT NULL,
	operation_type     TEXT NOT NULL,
	document_type      TEXT NOT NULL DEFAULT 'other',
	file_name          TEXT NOT NULL,
	file_size_bytes    BIGINT NOT NULL DEFAULT 0,
	credits_used       INTEGER NOT NULL DEFAULT 0,
	provider_used      TEXT NOT NULL DEFAULT '',
	success            BOOLEAN NOT NULL,
	error_message      TEXT NOT NULL DEFAULT '',
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_records_account_created ON usage_records(account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_usage_records_batch ON usage_records(batch_id);

CREATE TABLE IF NOT EXISTS property_records (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	address            TEXT NOT NULL DEFAULT '',
	normalized_address TEXT NOT NULL DEFAULT '',
	fields             JSONB NOT NULL DEFAULT '{}',
	field_confidences  JSONB NOT NULL DEFAULT '{}',
	field_sources      JSONB NOT NULL DEFAULT '{}',
	source_files       JSONB NOT NULL DEFAULT '[]',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_property_records_account_address ON property_records(account_id, normalized_address);

CREATE TABLE IF NOT EXISTS platform_credentials (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	api_key    TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	priority   INTEGER NOT NULL DEFAULT 0,
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_platform_credentials_active ON platform_credentials(active, priority DESC);

CREATE TABLE IF NOT EXISTS batch_jobs (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	state      TEXT NOT NULL,
	data       JSONB NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batch_jobs_account_started ON batch_jobs(account_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_batch_jobs_state ON batch_jobs(state);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Credit accounts ---

func (s *PostgresStore) EnsureAccount(ctx context.Context, accountID string, resetAt *time.Time) (*model.CreditAccount, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credit_accounts (account_id, reset_at) VALUES ($1, $2) ON CONFLICT (account_id) DO NOTHING`,
		accountID, resetAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure account %s", accountID)
	}

	var acct model.CreditAccount
	err = s.pool.QueryRow(ctx, sqlSelectAccount, accountID).
		Scan(&acct.AccountID, &acct.Quota, &acct.Used, &acct.ResetAt, &acct.PersonalCredentialMode)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get account %s", accountID)
	}
	return &acct, nil
}

func (s *PostgresStore) ResetDueAccount(ctx context.Context, accountID string, now, nextReset time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credit_accounts SET used = 0, reset_at = $3, updated_at = $2 WHERE account_id = $1 AND reset_at IS NOT NULL AND reset_at <= $2`,
		accountID, now, nextReset,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: reset account %s", accountID)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeCredits increments used by n only when the quota allows it. The
// check and the increment are one statement, so concurrent callers can never
// push used past quota.
func (s *PostgresStore) ConsumeCredits(ctx context.Context, accountID string, n int) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlConsumeCredits, accountID, n, time.Now().UTC())
	if err != nil {
		return false, eris.Wrapf(err, "postgres: consume credits %s", accountID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetQuota(ctx context.Context, accountID string, quota *int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credit_accounts (account_id, quota) VALUES ($1, $2) ON CONFLICT (account_id) DO UPDATE SET quota = EXCLUDED.quota, updated_at = now()`,
		accountID, quota,
	)
	return eris.Wrapf(err, "postgres: set quota %s", accountID)
}

func (s *PostgresStore) SetPersonalCredentialMode(ctx context.Context, accountID string, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credit_accounts (account_id, personal_credential_mode) VALUES ($1, $2) ON CONFLICT (account_id) DO UPDATE SET personal_credential_mode = EXCLUDED.personal_credential_mode, updated_at = now()`,
		accountID, enabled,
	)
	return eris.Wrapf(err, "postgres: set personal credential mode %s", accountID)
}

// --- Usage audit ---

func (s *PostgresStore) InsertUsage(ctx context.Context, rec *model.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, sqlInsertUsage,
		rec.ID, rec.AccountID, rec.BatchID, string(rec.OperationType), string(rec.DocumentType),
		rec.FileName, rec.FileSizeBytes, rec.CreditsUsed, string(rec.ProviderUsed), rec.Success,
		rec.ErrorMessage, rec.ProcessingTimeMs, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert usage")
}

func (s *PostgresStore) ListUsage(ctx context.Context, filter model.UsageFilter) ([]model.UsageRecord, error) {
	query := `SELECT id, account_id, batch_id, operation_type, document_type, file_name, file_size_bytes, credits_used, provider_used, success, error_message, processing_time_ms, created_at FROM usage_records WHERE account_id = $1`
	args := []any{filter.AccountID}
	argIdx := 2

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	var out []model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.BatchID, &r.OperationType, &r.DocumentType,
			&r.FileName, &r.FileSizeBytes, &r.CreditsUsed, &r.ProviderUsed, &r.Success,
			&r.ErrorMessage, &r.ProcessingTimeMs, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list usage iterate")
}

// --- Property records ---

func (s *PostgresStore) CreateProperty(ctx context.Context, rec *model.PropertyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	enc, err := encodeProperty(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO property_records (id, account_id, address, normalized_address, fields, field_confidences, field_sources, source_files, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.AccountID, rec.Address, rec.NormalizedAddress,
		enc.fields, enc.confidences, enc.sources, enc.files, now, now,
	)
	return eris.Wrap(err, "postgres: insert property")
}

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*model.PropertyRecord, error) {
	rec, err := scanProperty(s.pool.QueryRow(ctx, sqlSelectProperty+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: get property %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get property %s", id)
	}
	return rec, nil
}

// FindPropertyByNormalizedAddress returns the oldest matching record, or nil
// when none matches.
func (s *PostgresStore) FindPropertyByNormalizedAddress(ctx context.Context, accountID, normalized string) (*model.PropertyRecord, error) {
	rec, err := scanProperty(s.pool.QueryRow(ctx,
		sqlSelectProperty+` WHERE account_id = $1 AND normalized_address = $2 ORDER BY created_at ASC LIMIT 1`,
		accountID, normalized,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find property by address")
	}
	return rec, nil
}

// UpdateProperty locks the row, applies fn and writes the result in one
// transaction.
func (s *PostgresStore) UpdateProperty(ctx context.Context, id string, fn func(rec *model.PropertyRecord) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		rec, err := scanProperty(tx.QueryRow(ctx, sqlSelectProperty+` WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(model.ErrNotFound, "postgres: update property %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock property %s", id)
		}

		if err := fn(rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()

		enc, err := encodeProperty(rec)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE property_records SET address = $2, normalized_address = $3, fields = $4, field_confidences = $5, field_sources = $6, source_files = $7, updated_at = $8 WHERE id = $1`,
			rec.ID, rec.Address, rec.NormalizedAddress, enc.fields, enc.confidences, enc.sources, enc.files, rec.UpdatedAt,
		)
		return eris.Wrapf(err, "postgres: update property %s", id)
	})
}

// --- Platform credentials ---

func (s *PostgresStore) ListPlatformCredentials(ctx context.Context, activeOnly bool) ([]model.PlatformCredential, error) {
	query := `SELECT id, provider, api_key, model, priority, active, created_at FROM platform_credentials`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list credentials")
	}
	defer rows.Close()

	var out []model.PlatformCredential
	for rows.Next() {
		var c model.PlatformCredential
		if err := rows.Scan(&c.ID, &c.Provider, &c.APIKey, &c.Model, &c.Priority, &c.Active, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan credential")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list credentials iterate")
}

func (s *PostgresStore) AddPlatformCredential(ctx context.Context, cred *model.PlatformCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO platform_credentials (id, provider, api_key, model, priority, active, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cred.ID, string(cred.Provider), cred.APIKey, cred.Model, cred.Priority, cred.Active, cred.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert credential")
}

// --- Batch jobs ---

func (s *PostgresStore) SaveJob(ctx context.Context, job *model.BatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = s.pool.Exec(ctx, sqlSaveJob,
		job.ID, job.AccountID, string(job.State), data, job.StartedAt, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.BatchJob, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM batch_jobs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	var job model.BatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal job")
	}
	return &job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.BatchJob, error) {
	query := `SELECT data FROM batch_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.AccountID != "" {
		query += fmt.Sprintf(` AND account_id = $%d`, argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.BatchJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		var job model.BatchJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job")
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

type encodedProperty struct {
	fields, confidences, sources, files []byte
}

func encodeProperty(rec *model.PropertyRecord) (encodedProperty, error) {
	var enc encodedProperty
	var err error
	if enc.fields, err = json.Marshal(nonNilMap(rec.Fields)); err != nil {
		return enc, eris.Wrap(err, "store: marshal fields")
	}
	if enc.confidences, err = json.Marshal(nonNilMap(rec.FieldConfidences)); err != nil {
		return enc, eris.Wrap(err, "store: marshal confidences")
	}
	if enc.sources, err = json.Marshal(nonNilMap(rec.FieldSources)); err != nil {
		return enc, eris.Wrap(err, "store: marshal sources")
	}
	files := rec.SourceFiles
	if files == nil {
		files = []string{}
	}
	if enc.files, err = json.Marshal(files); err != nil {
		return enc, eris.Wrap(err, "store: marshal source files")
	}
	return enc, nil
}

func decodeProperty(rec *model.PropertyRecord, fields, confidences, sources, files []byte) error {
	for _, part := range []struct {
		raw  []byte
		dest any
		name string
	}{
		{fields, &rec.Fields, "fields"},
		{confidences, &rec.FieldConfidences, "confidences"},
		{sources, &rec.FieldSources, "sources"},
		{files, &rec.SourceFiles, "source files"},
	} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dest); err != nil {
			return eris.Wrapf(err, "store: unmarshal %s", part.name)
		}
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if rec.FieldConfidences == nil {
		rec.FieldConfidences = map[string]int{}
	}
	if rec.FieldSources == nil {
		rec.FieldSources = map[string]string{}
	}
	return nil
}

func scanProperty(row scannable) (*model.PropertyRecord, error) {
	var rec model.PropertyRecord
	var fields, confidences, sources, files []byte
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.Address, &rec.NormalizedAddress,
		&fields, &confidences, &sources, &files, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeProperty(&rec, fields, confidences, sources, files); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}
