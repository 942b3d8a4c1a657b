package progress

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/makeasinger/videogen/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// sqliteSchemaVersion is bumped whenever schema.sql changes. Older
// databases must be removed by hand.
const sqliteSchemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SQLiteStore keeps records in an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	keys *keyedMutex
	now  func() time.Time
}

// OpenSQLite opens or creates the database at path and verifies its schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps read-modify-write transactions from
	// deadlocking on lock upgrades.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{
		db:   db,
		path: path,
		keys: newKeyedMutex(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != sqliteSchemaVersion {
		return fmt.Errorf("%w: database %s has version %d, expected %d",
			ErrSchemaMismatch, s.path, version, sqliteSchemaVersion)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", sqliteSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Initialize(ctx context.Context, jobID string, restart bool) (model.ProgressRecord, error) {
	unlock := s.keys.Lock(jobID)
	defer unlock()

	rec := model.NewProgressRecord(jobID, s.now())
	data, err := json.Marshal(rec)
	if err != nil {
		return model.ProgressRecord{}, fmt.Errorf("marshal record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ProgressRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM progress_records WHERE job_id = ?", jobID,
	).Scan(&existing); err != nil {
		return model.ProgressRecord{}, fmt.Errorf("check record: %w", err)
	}
	if existing > 0 && !restart {
		return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrAlreadyExists)
	}

	stamp := rec.CreatedAt.Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO progress_records (job_id, stage, progress, record_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, string(rec.Stage), rec.Progress, string(data), stamp, stamp,
	); err != nil {
		return model.ProgressRecord{}, fmt.Errorf("insert record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.ProgressRecord{}, fmt.Errorf("commit record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, jobID string, mutate Mutation) (model.ProgressRecord, error) {
	unlock := s.keys.Lock(jobID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ProgressRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		"SELECT record_json FROM progress_records WHERE job_id = ?", jobID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return model.ProgressRecord{}, err
	}

	if err := mutate(&rec); err != nil {
		return model.ProgressRecord{}, err
	}
	rec.UpdatedAt = s.now()

	data, err := json.Marshal(rec)
	if err != nil {
		return model.ProgressRecord{}, fmt.Errorf("marshal record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE progress_records SET stage = ?, progress = ?, record_json = ?, updated_at = ? WHERE job_id = ?`,
		string(rec.Stage), rec.Progress, string(data), rec.UpdatedAt.Format(time.RFC3339Nano), jobID,
	); err != nil {
		return model.ProgressRecord{}, fmt.Errorf("update record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.ProgressRecord{}, fmt.Errorf("commit record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Read(ctx context.Context, jobID string) (model.ProgressRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT record_json FROM progress_records WHERE job_id = ?", jobID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return model.ProgressRecord{}, err
	}
	return rec, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanRecord(row *sql.Row) (model.ProgressRecord, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ProgressRecord{}, ErrNotFound
		}
		return model.ProgressRecord{}, fmt.Errorf("load record: %w", err)
	}
	var rec model.ProgressRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.ProgressRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
