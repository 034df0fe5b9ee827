package config

// Config is the daemon configuration. JSON and YAML files are both
// accepted; decoding is strict (unknown fields are rejected).
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"` // trace|debug|info|warn|error

	// Console is a pointer so "omitted" (default true) is distinguishable
	// from an explicit false.
	Console *bool      `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the schedule store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./planbook.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "memory"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReminderConfig controls the reminder service.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
// If the whole section is omitted, reminders default to enabled.
type ReminderConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	RetryBase   string `json:"retry_base,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
	Timezone    string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
}

// LoggingConsole resolves the Console default.
func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

// ReminderEnabled resolves the Enabled default.
func (c ReminderConfig) ReminderEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}
