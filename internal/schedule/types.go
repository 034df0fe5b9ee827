package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Canonical layouts. Dates and times are stored and compared as fixed
// format strings; everything that reaches the store went through
// ValidateDate/ValidateTime first.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ErrClosed is returned by Manager operations after Close.
var ErrClosed = errors.New("schedule manager closed")

// Status is the one-shot user-visible outcome of a successful write.
type Status string

const (
	StatusNone    Status = ""
	StatusSaved   Status = "saved"
	StatusUpdated Status = "updated"
	StatusDeleted Status = "deleted"
)

// ValidationError reports a malformed caller-supplied field. It is
// returned before the store is touched.
type ValidationError struct {
	Field string
	Value string
	Want  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q (want %s)", e.Field, e.Value, e.Want)
}

// ValidateDate checks for canonical YYYY-MM-DD. The round-trip check
// matters: time.Parse accepts some non-padded forms the canonical layout
// must reject, and non-canonical dates would corrupt grouping keys.
func ValidateDate(date string) error {
	t, err := time.Parse(DateLayout, date)
	if err != nil || t.Format(DateLayout) != date {
		return &ValidationError{Field: "date", Value: date, Want: DateLayout}
	}
	return nil
}

// ValidateTime checks for canonical HH:MM. Empty means "no time chosen"
// and is valid.
func ValidateTime(tm string) error {
	if tm == "" {
		return nil
	}
	t, err := time.Parse(TimeLayout, tm)
	if err != nil || t.Format(TimeLayout) != tm {
		return &ValidationError{Field: "time", Value: tm, Want: TimeLayout}
	}
	return nil
}

// parseDate returns the parsed form of a canonical date and whether the
// parse succeeded. Rows predating validation may carry odd dates; they
// sort by raw string instead of being dropped.
func parseDate(date string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, date)
	return t, err == nil
}
