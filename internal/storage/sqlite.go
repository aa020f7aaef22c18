package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dshills/newscluster/internal/allocator"
	"github.com/dshills/newscluster/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// single writer; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Run operations

const runColumns = `
	id, category, base_dir, status, records_in, records_dropped, records_persisted,
	malformed, leaves, rounds, fallbacks, failed_batches, error, started_at, finished_at
`

func (s *SQLiteStorage) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("failed to create run: empty id")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}

	query := `
		INSERT INTO runs (id, category, base_dir, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Category, run.BaseDir, string(run.Status), run.StartedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("run %s: %w", run.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of run.
func (s *SQLiteStorage) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}

	query := `
		UPDATE runs
		SET status = ?, records_in = ?, records_dropped = ?, records_persisted = ?,
		    malformed = ?, leaves = ?, rounds = ?, fallbacks = ?, failed_batches = ?,
		    error = ?, finished_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(run.Status), run.RecordsIn, run.RecordsDropped, run.RecordsPersisted,
		run.Malformed, run.Leaves, run.Rounds, run.Fallbacks, run.FailedBatches,
		nullString(run.Error), run.FinishedAt, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if filter.Category != "" {
		query += " WHERE category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		status     string
		errText    sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.Category, &run.BaseDir, &status,
		&run.RecordsIn, &run.RecordsDropped, &run.RecordsPersisted,
		&run.Malformed, &run.Leaves, &run.Rounds, &run.Fallbacks, &run.FailedBatches,
		&errText, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.Error = errText.String
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}

// Partition operations

// RecordPartition catalogs a written leaf. runID may be empty.
func (s *SQLiteStorage) RecordPartition(ctx context.Context, runID string, p types.Partition) error {
	ids, err := json.Marshal(p.RecordIDs)
	if err != nil {
		return fmt.Errorf("failed to encode record ids: %w", err)
	}

	query := `
		INSERT INTO partitions (run_id, dir, path, number, size, record_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		nullString(runID), filepath.Clean(p.Dir), p.Path, p.Number, len(p.RecordIDs), string(ids), time.Now().UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("partition %s: %w", p.Path, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to record partition: %w", err)
	}
	return nil
}

const partitionColumns = `id, run_id, dir, path, number, size, record_ids, created_at`

// ListPartitions returns the partitions cataloged for dir by number.
func (s *SQLiteStorage) ListPartitions(ctx context.Context, dir string) ([]*Partition, error) {
	return s.queryPartitions(ctx, s.db,
		"SELECT "+partitionColumns+" FROM partitions WHERE dir = ? ORDER BY number", filepath.Clean(dir))
}

// ListRunPartitions returns the partitions written by a run in write order.
func (s *SQLiteStorage) ListRunPartitions(ctx context.Context, runID string) ([]*Partition, error) {
	return s.queryPartitions(ctx, s.db,
		"SELECT "+partitionColumns+" FROM partitions WHERE run_id = ? ORDER BY id", runID)
}

func (s *SQLiteStorage) queryPartitions(ctx context.Context, q querier, query string, args ...any) ([]*Partition, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer rows.Close()

	var partitions []*Partition
	for rows.Next() {
		var (
			p     Partition
			runID sql.NullString
			ids   string
		)
		if err := rows.Scan(&p.ID, &runID, &p.Dir, &p.Path, &p.Number, &p.Size, &ids, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.RunID = runID.String
		if err := json.Unmarshal([]byte(ids), &p.RecordIDs); err != nil {
			return nil, fmt.Errorf("partition %s: decode record ids: %w", p.Path, err)
		}
		partitions = append(partitions, &p)
	}
	return partitions, rows.Err()
}

// Sequence operations

// NextID returns the next partition number for dir: one past the larger of
// the highest file on disk and the catalog's counter.
func (s *SQLiteStorage) NextID(ctx context.Context, dir string) (int, error) {
	highest, found, err := allocator.Scan(dir)
	if err != nil {
		return 0, err
	}
	next := 0
	if found {
		next = highest + 1
	}

	key := filepath.Clean(dir)
	err = s.withTx(ctx, func(q querier) error {
		var stored int
		err := q.QueryRowContext(ctx, "SELECT next_id FROM sequences WHERE dir = ?", key).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read sequence: %w", err)
		case stored > next:
			next = stored
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO sequences (dir, next_id, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(dir) DO UPDATE SET next_id = excluded.next_id, updated_at = excluded.updated_at
		`, key, next+1, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to advance sequence: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Status operations

// GetStatus summarizes runs and partitions, for one category or, with an
// empty category, for the whole catalog.
func (s *SQLiteStorage) GetStatus(ctx context.Context, category string) (*Status, error) {
	status := &Status{Category: category}

	runQuery := "SELECT COUNT(*) FROM runs"
	partQuery := "SELECT COUNT(*), COALESCE(SUM(size), 0) FROM partitions"
	var args []any
	if category != "" {
		runQuery += " WHERE category = ?"
		partQuery = `
			SELECT COUNT(*), COALESCE(SUM(p.size), 0)
			FROM partitions p JOIN runs r ON p.run_id = r.id
			WHERE r.category = ?
		`
		args = append(args, category)
	}

	if err := s.db.QueryRowContext(ctx, runQuery, args...).Scan(&status.Runs); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, partQuery, args...).Scan(&status.Partitions, &status.RecordsPersisted); err != nil {
		return nil, fmt.Errorf("failed to count partitions: %w", err)
	}

	runs, err := s.ListRuns(ctx, RunFilter{Category: category, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		status.LastRun = runs[0]
	}

	return status, nil
}
