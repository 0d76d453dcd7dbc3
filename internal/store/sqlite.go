package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/property-import/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

// NewSQLite opens a SQLite database at path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		for _, p := range sqlitePragmas {
			dsn += sep + "_pragma=" + p
			sep = "&"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text so they compare correctly as
// strings.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: sqliteTime(*t), Valid: true}
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	account_id               TEXT PRIMARY KEY,
	quota                    INTEGER CHECK (quota IS NULL OR quota >= 0),
	used                     INTEGER NOT NULL DEFAULT 0 CHECK (used >= 0),
	reset_at                 TEXT,
	personal_credential_mode INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS usage_records (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	batch_id           TEXT NOT NULL,
	operation_type     TEXT NOT NULL,
	document_type      TEXT NOT NULL DEFAULT 'other',
	file_name          TEXT NOT NULL,
	file_size_bytes    INTEGER NOT NULL DEFAULT 0,
	credits_used       INTEGER NOT NULL DEFAULT 0,
	provider_used      TEXT NOT NULL DEFAULT '',
	success            INTEGER NOT NULL,
	error_message      TEXT NOT NULL DEFAULT '',
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_records_account_created ON usage_records(account_id, created_at);

CREATE TABLE IF NOT EXISTS property_records (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	address            TEXT NOT NULL DEFAULT '',
	normalized_address TEXT NOT NULL DEFAULT '',
	fields             TEXT NOT NULL DEFAULT '{}',
	field_confidences  TEXT NOT NULL DEFAULT '{}',
	field_sources      TEXT NOT NULL DEFAULT '{}',
	source_files       TEXT NOT NULL DEFAULT '[]',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_property_records_account_address ON property_records(account_id, normalized_address);

CREATE TABLE IF NOT EXISTS platform_credentials (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	api_key    TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	priority   INTEGER NOT NULL DEFAULT 0,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_jobs (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	state      TEXT NOT NULL,
	data       TEXT NOT NULL,
	started_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_jobs_account_started ON batch_jobs(account_id, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Credit accounts ---

func (s *SQLiteStore) EnsureAccount(ctx context.Context, accountID string, resetAt *time.Time) (*model.CreditAccount, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (account_id, reset_at) VALUES (?, ?) ON CONFLICT (account_id) DO NOTHING`,
		accountID, sqliteNullTime(resetAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: ensure account %s", accountID)
	}

	var acct model.CreditAccount
	var quota sql.NullInt64
	var reset sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT account_id, quota, used, reset_at, personal_credential_mode FROM credit_accounts WHERE account_id = ?`,
		accountID,
	).Scan(&acct.AccountID, &quota, &acct.Used, &reset, &acct.PersonalCredentialMode)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get account %s", accountID)
	}
	if quota.Valid {
		q := int(quota.Int64)
		acct.Quota = &q
	}
	if reset.Valid {
		t, err := parseSQLiteTime(reset.String)
		if err != nil {
			return nil, err
		}
		acct.ResetAt = &t
	}
	return &acct, nil
}

func (s *SQLiteStore) ResetDueAccount(ctx context.Context, accountID string, now, nextReset time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_accounts SET used = 0, reset_at = ? WHERE account_id = ? AND reset_at IS NOT NULL AND reset_at <= ?`,
		sqliteTime(nextReset), accountID, sqliteTime(now),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: reset account %s", accountID)
	}
	n, err := res.RowsAffected()
	return n == 1, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ConsumeCredits(ctx context.Context, accountID string, n int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_accounts SET used = used + ? WHERE account_id = ? AND (quota IS NULL OR used + ? <= quota)`,
		n, accountID, n,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: consume credits %s", accountID)
	}
	affected, err := res.RowsAffected()
	return affected == 1, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SetQuota(ctx context.Context, accountID string, quota *int) error {
	var q sql.NullInt64
	if quota != nil {
		q = sql.NullInt64{Int64: int64(*quota), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (account_id, quota) VALUES (?, ?) ON CONFLICT (account_id) DO UPDATE SET quota = excluded.quota`,
		accountID, q,
	)
	return eris.Wrapf(err, "sqlite: set quota %s", accountID)
}

func (s *SQLiteStore) SetPersonalCredentialMode(ctx context.Context, accountID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (account_id, personal_credential_mode) VALUES (?, ?) ON CONFLICT (account_id) DO UPDATE SET personal_credential_mode = excluded.personal_credential_mode`,
		accountID, enabled,
	)
	return eris.Wrapf(err, "sqlite: set personal credential mode %s", accountID)
}

// --- Usage audit ---

func (s *SQLiteStore) InsertUsage(ctx context.Context, rec *model.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, account_id, batch_id, operation_type, document_type, file_name, file_size_bytes, credits_used, provider_used, success, error_message, processing_time_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID, rec.BatchID, string(rec.OperationType), string(rec.DocumentType),
		rec.FileName, rec.FileSizeBytes, rec.CreditsUsed, string(rec.ProviderUsed), rec.Success,
		rec.ErrorMessage, rec.ProcessingTimeMs, sqliteTime(rec.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert usage")
}

func (s *SQLiteStore) ListUsage(ctx context.Context, filter model.UsageFilter) ([]model.UsageRecord, error) {
	query := `SELECT id, account_id, batch_id, operation_type, document_type, file_name, file_size_bytes, credits_used, provider_used, success, error_message, processing_time_ms, created_at FROM usage_records WHERE account_id = ?`
	args := []any{filter.AccountID}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, sqliteTime(filter.Since))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		var opType, docType, provider, created string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.BatchID, &opType, &docType,
			&r.FileName, &r.FileSizeBytes, &r.CreditsUsed, &provider, &r.Success,
			&r.ErrorMessage, &r.ProcessingTimeMs, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		r.OperationType = model.OperationType(opType)
		r.DocumentType = model.DocumentType(docType)
		r.ProviderUsed = model.Provider(provider)
		if r.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list usage iterate")
}

// --- Property records ---

const sqliteSelectProperty = `SELECT id, account_id, address, normalized_address, fields, field_confidences, field_sources, source_files, created_at, updated_at FROM property_records`

func (s *SQLiteStore) CreateProperty(ctx context.Context, rec *model.PropertyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	enc, err := encodeProperty(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO property_records (id, account_id, address, normalized_address, fields, field_confidences, field_sources, source_files, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID, rec.Address, rec.NormalizedAddress,
		string(enc.fields), string(enc.confidences), string(enc.sources), string(enc.files),
		sqliteTime(now), sqliteTime(now),
	)
	return eris.Wrap(err, "sqlite: insert property")
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*model.PropertyRecord, error) {
	rec, err := scanSQLiteProperty(s.db.QueryRowContext(ctx, sqliteSelectProperty+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: get property %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get property %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) FindPropertyByNormalizedAddress(ctx context.Context, accountID, normalized string) (*model.PropertyRecord, error) {
	rec, err := scanSQLiteProperty(s.db.QueryRowContext(ctx,
		sqliteSelectProperty+` WHERE account_id = ? AND normalized_address = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`,
		accountID, normalized,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find property by address")
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateProperty(ctx context.Context, id string, fn func(rec *model.PropertyRecord) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	rec, err := scanSQLiteProperty(tx.QueryRowContext(ctx, sqliteSelectProperty+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "sqlite: update property %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load property %s", id)
	}

	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()

	enc, err := encodeProperty(rec)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE property_records SET address = ?, normalized_address = ?, fields = ?, field_confidences = ?, field_sources = ?, source_files = ?, updated_at = ? WHERE id = ?`,
		rec.Address, rec.NormalizedAddress, string(enc.fields), string(enc.confidences),
		string(enc.sources), string(enc.files), sqliteTime(rec.UpdatedAt), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update property %s", id)
	}
	if err := checkRowsAffected(res, "property", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// --- Platform credentials ---

func (s *SQLiteStore) ListPlatformCredentials(ctx context.Context, activeOnly bool) ([]model.PlatformCredential, error) {
	query := `SELECT id, provider, api_key, model, priority, active, created_at FROM platform_credentials`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list credentials")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PlatformCredential
	for rows.Next() {
		var c model.PlatformCredential
		var provider, created string
		if err := rows.Scan(&c.ID, &provider, &c.APIKey, &c.Model, &c.Priority, &c.Active, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan credential")
		}
		c.Provider = model.Provider(provider)
		if c.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list credentials iterate")
}

func (s *SQLiteStore) AddPlatformCredential(ctx context.Context, cred *model.PlatformCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO platform_credentials (id, provider, api_key, model, priority, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, string(cred.Provider), cred.APIKey, cred.Model, cred.Priority, cred.Active, sqliteTime(cred.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert credential")
}

// --- Batch jobs ---

func (s *SQLiteStore) SaveJob(ctx context.Context, job *model.BatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_jobs (id, account_id, state, data, started_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET state = excluded.state, data = excluded.data, updated_at = excluded.updated_at`,
		job.ID, job.AccountID, string(job.State), string(data), sqliteTime(job.StartedAt), sqliteTime(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: save job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.BatchJob, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM batch_jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	var job model.BatchJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job")
	}
	return &job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.BatchJob, error) {
	query := `SELECT data FROM batch_jobs WHERE 1=1`
	var args []any
	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BatchJob
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		var job model.BatchJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job")
		}
		out = append(out, job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanSQLiteProperty(row scannable) (*model.PropertyRecord, error) {
	var rec model.PropertyRecord
	var fields, confidences, sources, files, created, updated string
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.Address, &rec.NormalizedAddress,
		&fields, &confidences, &sources, &files, &created, &updated); err != nil {
		return nil, err
	}
	if err := decodeProperty(&rec, []byte(fields), []byte(confidences), []byte(sources), []byte(files)); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	return &rec, nil
}
