package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultOverrunWarnEvery = 5 * time.Second
	maxPrecision            = 34
)

var ErrNoPeriods = errors.New("config: at least one period is required")

// Validate checks every section. It does not know which actions exist;
// callers that do should validate period actions separately.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Poller.SearchLimit < 0 {
		return fmt.Errorf("poller.search_limit must be >= 0")
	}
	if c.Poller.Precision < 0 || c.Poller.Precision > maxPrecision {
		return fmt.Errorf("poller.precision must be within 0..%d", maxPrecision)
	}
	if _, err := c.Runner.OverrunWarnInterval(); err != nil {
		return err
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unsupported %q (use file or sqlite)", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
		if s.HistoryLimit < 0 {
			return fmt.Errorf("storage.history_limit must be >= 0")
		}
	}
	if _, err := ParseDurationField("debug.read_timeout", c.Debug.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("debug.write_timeout", c.Debug.WriteTimeout); err != nil {
		return err
	}
	if len(c.Periods) == 0 {
		return ErrNoPeriods
	}
	_, err := c.ResolvePeriods()
	return err
}

func (r RunnerConfig) OverrunWarnInterval() (time.Duration, error) {
	return ParseDurationOrDefault("runner.overrun_warn_every", r.OverrunWarnEvery, DefaultOverrunWarnEvery)
}
