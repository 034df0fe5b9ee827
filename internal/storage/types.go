package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by UpdateByID when no row matches the id.
//
// Deletes of an absent id are a silent no-op: the row being gone is the
// outcome the caller asked for. A missing update target is different; it
// means the caller is about to lose an edit, so it is reported.
var ErrNotFound = errors.New("schedule not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "memory": in-process map, for tests and throwaway runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Schedule is one persisted planned item.
//
// Date and Time are canonical strings ("2006-01-02", "15:04"); Time is ""
// when no time-of-day was chosen. The store does not enforce a non-blank
// Text; that is a presentation concern.
type Schedule struct {
	ID      int64
	Date    string
	Text    string
	Time    string
	AlarmOn bool
}

// NewSchedule carries all caller-assigned fields of a row.
// The store is the sole authority for id assignment.
type NewSchedule struct {
	Date    string
	Text    string
	Time    string
	AlarmOn bool
}

// Store is the persistence contract the schedule core is built on.
//
// Writes are serialized (single-writer). Reads observe either the pre- or
// post-write state of a concurrent write, never a partial row. No read
// method guarantees an ordering; callers order results themselves.
type Store interface {
	// Insert persists a new row and returns its store-assigned id.
	Insert(ctx context.Context, s NewSchedule) (int64, error)

	// UpdateByID replaces the full row matching id.
	// Returns ErrNotFound when no row matches.
	UpdateByID(ctx context.Context, id int64, s NewSchedule) error

	// DeleteByID removes the row with that id; no-op if absent.
	DeleteByID(ctx context.Context, id int64) error

	// ListByDate returns all rows whose date equals date.
	ListByDate(ctx context.Context, date string) ([]Schedule, error)

	// ListAll returns every row.
	ListAll(ctx context.Context) ([]Schedule, error)

	// Dates returns the distinct dates that have at least one row.
	Dates(ctx context.Context) ([]string, error)

	Close() error
}
