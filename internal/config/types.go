package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Poller controls the polling interval derivation.
	Poller PollerConfig `json:"poller"`

	// Runner controls the wait/dispatch loop.
	Runner RunnerConfig `json:"runner"`

	// Storage is optional; omitted means fire history is not persisted.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Debug is an optional HTTP endpoint with /healthz, /status and pprof.
	Debug DebugConfig `json:"debug"`

	Periods []PeriodConfig `json:"periods"`
}

// PeriodConfig declares one named period.
//
// Every accepts:
//   - Go durations: "90s", "1m30s"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Descriptors: "@every 5m" (second granularity, as in cron)
//
// Delay is a Go duration string and must be shorter than the period.
// Action names the callback run when the period fires ("log" if omitted).
type PeriodConfig struct {
	Name   string `json:"name"`
	Every  string `json:"every"`
	Delay  string `json:"delay,omitempty"`
	Action string `json:"action,omitempty"`
}

// PollerConfig controls polling interval derivation.
//
// Defaults (when fields are omitted/zero):
//   - search_limit: 100
//   - precision: 9
//   - reset_on_start: true
type PollerConfig struct {
	SearchLimit int `json:"search_limit,omitempty"`
	Precision   int `json:"precision,omitempty"`

	// ResetOnStart re-anchors every period to its next boundary before the
	// loop starts, so nothing fires for the partial period at startup.
	// Pointer so "omitted" can default to true.
	ResetOnStart *bool `json:"reset_on_start,omitempty"`
}

// RunnerConfig controls the poll loop.
type RunnerConfig struct {
	// OverrunWarnEvery throttles "loop woke late" warnings (Go duration, default "5s").
	OverrunWarnEvery string `json:"overrun_warn_every,omitempty"`
	// Watchdog sends systemd WATCHDOG=1 on every tick when running under systemd.
	Watchdog bool `json:"watchdog"`
}

// StorageConfig controls the optional fire-history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tickpoll_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// HistoryLimit caps the sqlite fires table (default 10000 rows).
	HistoryLimit int `json:"history_limit,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

func (p PollerConfig) ResetOnStartOrDefault() bool {
	if p.ResetOnStart == nil {
		return true
	}
	return *p.ResetOnStart
}

// DebugConfig controls the optional debug HTTP server.
//
// Security: binding to a non-loopback address requires Token or
// AllowInsecure. The token is never logged.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}
