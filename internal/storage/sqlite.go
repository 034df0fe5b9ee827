package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "planbook/pkg/logx"

	_ "modernc.org/sqlite"
)

// migrations run in order; PRAGMA user_version tracks how far a database
// has been upgraded.
//
// v1 is the oldest deployed schema (id/date/text only). v2 adds the
// time-of-day and alarm columns as an explicit step so v1 databases
// upgrade in place instead of forking into parallel schemas.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schedules (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_date ON schedules(date);`,

	`ALTER TABLE schedules ADD COLUMN time TEXT NOT NULL DEFAULT '';
	ALTER TABLE schedules ADD COLUMN alarm INTEGER NOT NULL DEFAULT 0;`,
}

type sqliteStore struct {
	db   *sql.DB
	feed *Feed
	log  logx.Logger
}

func openSQLite(cfg Config, feed *Feed, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, feed: feed, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < 0 || version > len(migrations) {
		return fmt.Errorf("unknown schema version %d (max %d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migrate to v%d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}
		s.log.Debug("schema migrated", logx.Int("version", i+1))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, n NewSchedule) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(date, text, time, alarm) VALUES(?,?,?,?)`,
		n.Date, n.Text, n.Time, boolToInt(n.AlarmOn),
	)
	if err != nil {
		return 0, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert schedule: id: %w", err)
	}
	s.feed.Publish(Change{Op: OpInsert, ID: id, Dates: []string{n.Date}})
	return id, nil
}

func (s *sqliteStore) UpdateByID(ctx context.Context, id int64, n NewSchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevDate string
	err = tx.QueryRowContext(ctx, `SELECT date FROM schedules WHERE id = ?`, id).Scan(&prevDate)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update schedule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE schedules SET date = ?, text = ?, time = ?, alarm = ? WHERE id = ?`,
		n.Date, n.Text, n.Time, boolToInt(n.AlarmOn), id,
	)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update schedule %d: %w", id, err)
	}

	dates := []string{n.Date}
	if prevDate != n.Date {
		dates = append(dates, prevDate)
	}
	s.feed.Publish(Change{Op: OpUpdate, ID: id, Dates: dates})
	return nil
}

func (s *sqliteStore) DeleteByID(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var date string
	err = tx.QueryRowContext(ctx, `SELECT date FROM schedules WHERE id = ?`, id).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		// Already gone.
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}

	s.feed.Publish(Change{Op: OpDelete, ID: id, Dates: []string{date}})
	return nil
}

func (s *sqliteStore) ListByDate(ctx context.Context, date string) ([]Schedule, error) {
	return s.list(ctx, `SELECT id, date, text, time, alarm FROM schedules WHERE date = ? ORDER BY id`, date)
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]Schedule, error) {
	return s.list(ctx, `SELECT id, date, text, time, alarm FROM schedules ORDER BY id`)
}

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var alarm int
		if err := rows.Scan(&sc.ID, &sc.Date, &sc.Text, &sc.Time, &alarm); err != nil {
			return nil, fmt.Errorf("list schedules: scan: %w", err)
		}
		sc.AlarmOn = alarm != 0
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) Dates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT date FROM schedules ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("list dates: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dates: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
