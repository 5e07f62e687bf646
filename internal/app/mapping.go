package app

import (
	"fmt"
	"strings"
	"time"

	"tickpoll/internal/config"
	"tickpoll/internal/observability/debugsrv"
	"tickpoll/internal/runner"
	"tickpoll/internal/storage"
	logx "tickpoll/pkg/logx"
	"tickpoll/pkg/poller"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    lc.Alert.Enabled,
			MinLevel:   lc.Alert.MinLevel,
			RatePerSec: lc.Alert.RatePerSec,
		},
	}
}

func mapPollerConfig(cfg *config.Config) poller.Config {
	return poller.Config{
		SearchLimit: cfg.Poller.SearchLimit,
		Precision:   uint32(cfg.Poller.Precision),
	}
}

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	warn, err := cfg.Runner.OverrunWarnInterval()
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		OverrunWarnEvery: warn,
		Watchdog:         cfg.Runner.Watchdog,
		ResetOnStart:     cfg.Poller.ResetOnStartOrDefault(),
	}, nil
}

// mapStorageConfig returns enabled=false when the section is omitted or the
// driver is "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./tickpoll_store"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, HistoryLimit: sc.HistoryLimit}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	dc := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// pprof/profile streams for 30s by default.
	wt, err := config.ParseDurationOrDefault("debug.write_timeout", dc.WriteTimeout, time.Minute)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}
