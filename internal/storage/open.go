package storage

import (
	"errors"
	"strings"

	logx "planbook/pkg/logx"
)

// Open initializes the configured store.
//
// The feed is required: every confirmed write is published on it, and the
// repository's live queries depend on that.
func Open(cfg Config, feed *Feed, log logx.Logger) (Store, error) {
	if feed == nil {
		return nil, errors.New("storage: feed is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, feed, log)
	case "memory":
		return NewMemory(feed, log), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
