package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "autoapply-history.db"

const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS applied (
		board      TEXT NOT NULL,
		job_id     TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		company    TEXT NOT NULL DEFAULT '',
		url        TEXT NOT NULL DEFAULT '',
		domain     TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT '',
		run_id     TEXT NOT NULL DEFAULT '',
		applied_at INTEGER NOT NULL,
		PRIMARY KEY (board, job_id)
	);
	CREATE INDEX IF NOT EXISTS idx_applied_at ON applied(applied_at);`,
}

// SQLite keeps the history in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = DefaultPath
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect history database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema %d is newer than supported %d", version, schemaVersion)
	}
	for ; version < len(migrations); version++ {
		if _, err := s.db.ExecContext(ctx, migrations[version]); err != nil {
			return fmt.Errorf("migration %d: %w", version+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Applied(ctx context.Context, board, jobID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM applied WHERE board = ? AND job_id = ?", board, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query applied job: %w", err)
	}
	return true, nil
}

func (s *SQLite) Record(ctx context.Context, e Entry) error {
	if e.AppliedAt.IsZero() {
		e.AppliedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO applied (board, job_id, title, company, url, domain, status, run_id, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Board, e.JobID, e.Title, e.Company, e.URL, e.Domain, e.Status, e.RunID, e.AppliedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record applied job: %w", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, board string) ([]Entry, error) {
	query := `SELECT board, job_id, title, company, url, domain, status, run_id, applied_at FROM applied`
	var args []any
	if board != "" {
		query += " WHERE board = ?"
		args = append(args, board)
	}
	query += " ORDER BY applied_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applied jobs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.Board, &e.JobID, &e.Title, &e.Company, &e.URL, &e.Domain, &e.Status, &e.RunID, &at); err != nil {
			return nil, err
		}
		e.AppliedAt = time.UnixMilli(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
