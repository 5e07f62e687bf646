package app

import (
	"context"
	"fmt"
	"strings"

	"tickpoll/internal/actions"
	"tickpoll/internal/config"
	"tickpoll/internal/eventbus"
	logx "tickpoll/pkg/logx"
	"tickpoll/pkg/systemd"
)

// applyPeriods registers every configured period with its callback. Periods
// present in changes.Removed stay in the poller (it cannot forget a name)
// but lose their callback.
func (a *App) applyPeriods(ctx context.Context, cfg *config.Config, changes config.PeriodChanges) error {
	periods, err := cfg.ResolvePeriods()
	if err != nil {
		return err
	}
	for _, p := range periods {
		cb, err := a.actions.Callback(ctx, actions.Spec{
			Name: p.Name, Period: p.Every, Delay: p.Delay, Action: p.Action,
		})
		if err != nil {
			return fmt.Errorf("period %q: %w", p.Name, err)
		}
		if _, err := a.poller.Register(p.Name, p.Every, cb, p.Delay); err != nil {
			return err
		}
	}
	for _, name := range changes.Removed {
		rec, ok := a.poller.Record(name)
		if !ok {
			continue
		}
		if _, err := a.poller.Register(name, rec.Period, nil, rec.Delay); err != nil {
			return err
		}
		a.log.Warn("period removed from config; detached until restart", logx.String("period", name))
	}
	return nil
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changes := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading(a.notify)
	defer func() { _, _ = systemd.Ready(a.notify) }()

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.poller.Apply(mapPollerConfig(newCfg))

	if rcfg, err := mapRunnerConfig(newCfg); err != nil {
		a.log.Warn("invalid runner config; keeping previous", logx.Err(err))
	} else {
		a.runner.Apply(rcfg)
	}

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "debug":
			if dcfg, err := mapDebugConfig(newCfg); err != nil {
				a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
			} else {
				a.debug.Reconfigure(ctx, dcfg)
			}
		}
	}

	if !changes.Empty() {
		a.log.Debug("period changes",
			logx.Any("added", changes.Added),
			logx.Any("updated", changes.Updated),
			logx.Any("removed", changes.Removed),
		)
		if err := a.applyPeriods(ctx, newCfg, changes); err != nil {
			a.log.Error("applying periods failed", logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeConfigApplied,
		Time: a.clk.Now(),
		Data: eventbus.ConfigApplied{Sections: sections, Periods: a.poller.Len()},
	})

	fields := append([]logx.Field{
		logx.String("changed", strings.Join(sections, ",")),
		logx.Duration("polling", a.poller.Polling()),
	}, attrs...)
	a.log.Info("config reloaded", fields...)
}
