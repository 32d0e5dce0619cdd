package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Load(ctx context.Context) (State, error) {
	out := Empty()

	err := s.db.QueryRowContext(ctx, `SELECT total_views FROM counter WHERE id = 1`).Scan(&out.TotalViews)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Empty(), fmt.Errorf("load counter: %w", err)
	}
	if out.TotalViews < 0 {
		return Empty(), fmt.Errorf("%w: negative total %d", ErrCorrupt, out.TotalViews)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, last_seen FROM visitors`)
	if err != nil {
		return Empty(), fmt.Errorf("load visitors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fp string
		var seen time.Time
		if err := rows.Scan(&fp, &seen); err != nil {
			return Empty(), fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out.Entries[fp] = seen.UTC()
	}
	if err := rows.Err(); err != nil {
		return Empty(), fmt.Errorf("load visitors: %w", err)
	}
	return out, nil
}

func (s *SQLite) Commit(ctx context.Context, total int64, e Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO visitors(fingerprint, last_seen) VALUES(?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET last_seen=excluded.last_seen`,
		e.Fingerprint, e.LastSeen.UTC()); err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO counter(id, total_views) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET total_views=excluded.total_views`,
		total); err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Migrate ensures schema exists
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS counter (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			total_views INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS visitors (
			fingerprint TEXT PRIMARY KEY,
			last_seen DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
