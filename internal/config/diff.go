package config

import (
	"sort"
	"strings"

	logx "tickpoll/pkg/logx"
)

// PeriodChanges lists period names by kind of change between two configs.
type PeriodChanges struct {
	Added   []string
	Updated []string
	Removed []string
}

func (p PeriodChanges) Empty() bool {
	return len(p.Added) == 0 && len(p.Updated) == 0 && len(p.Removed) == 0
}

// SummarizeConfigChange returns the sorted list of changed sections, compact
// attrs for logging, and the per-period changes.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, PeriodChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol != nl {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.alert_enabled", nl.Alert.Enabled),
		)
	}

	op, np := oldCfg.Poller, newCfg.Poller
	if op.SearchLimit != np.SearchLimit || op.Precision != np.Precision ||
		op.ResetOnStartOrDefault() != np.ResetOnStartOrDefault() {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.Int("poller.search_limit", np.SearchLimit),
			logx.Int("poller.precision", np.Precision),
		)
	}

	if strings.TrimSpace(oldCfg.Runner.OverrunWarnEvery) != strings.TrimSpace(newCfg.Runner.OverrunWarnEvery) ||
		oldCfg.Runner.Watchdog != newCfg.Runner.Watchdog {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.String("runner.overrun_warn_every", strings.TrimSpace(newCfg.Runner.OverrunWarnEvery)),
			logx.Bool("runner.watchdog", newCfg.Runner.Watchdog),
		)
	}

	// Nil storage means disabled.
	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if (oldCfg.Storage == nil) != (newCfg.Storage == nil) || oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	// Never log the token.
	od, nd := oldCfg.Debug, newCfg.Debug
	if od.Enabled != nd.Enabled ||
		strings.TrimSpace(od.Addr) != strings.TrimSpace(nd.Addr) ||
		od.Token != nd.Token ||
		od.AllowInsecure != nd.AllowInsecure ||
		strings.TrimSpace(od.ReadTimeout) != strings.TrimSpace(nd.ReadTimeout) ||
		strings.TrimSpace(od.WriteTimeout) != strings.TrimSpace(nd.WriteTimeout) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", nd.Token != ""),
		)
	}

	pc := diffPeriods(oldCfg.Periods, newCfg.Periods)
	if !pc.Empty() {
		changed = append(changed, "periods")
		attrs = append(attrs,
			logx.Int("periods.added", len(pc.Added)),
			logx.Int("periods.updated", len(pc.Updated)),
			logx.Int("periods.removed", len(pc.Removed)),
			logx.Int("periods.count", len(newCfg.Periods)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pc
}

func diffPeriods(oldP, newP []PeriodConfig) PeriodChanges {
	index := func(in []PeriodConfig) map[string]PeriodConfig {
		m := make(map[string]PeriodConfig, len(in))
		for _, p := range in {
			p.Name = strings.TrimSpace(p.Name)
			m[p.Name] = p
		}
		return m
	}
	om, nm := index(oldP), index(newP)

	var out PeriodChanges
	for name, n := range nm {
		o, ok := om[name]
		switch {
		case !ok:
			out.Added = append(out.Added, name)
		case !samePeriod(o, n):
			out.Updated = append(out.Updated, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			out.Removed = append(out.Removed, name)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Updated)
	sort.Strings(out.Removed)
	return out
}

func samePeriod(a, b PeriodConfig) bool {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return norm(a.Every) == norm(b.Every) &&
		norm(a.Delay) == norm(b.Delay) &&
		norm(a.Action) == norm(b.Action)
}
