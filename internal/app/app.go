package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickpoll/internal/actions"
	"tickpoll/internal/config"
	"tickpoll/internal/eventbus"
	"tickpoll/internal/observability/debugsrv"
	"tickpoll/internal/runner"
	"tickpoll/internal/runtime/supervisor"
	"tickpoll/internal/storage"
	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
	"tickpoll/pkg/poller"
	"tickpoll/pkg/systemd"
)

// App wires config, logging, storage, the poller and its run loop.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clk   clock.Clock

	notify  systemd.Notifier
	poller  *poller.Poller
	actions *actions.Registry
	runner  *runner.Runner
	debug   *debugsrv.Service
}

type Option func(*App)

// WithClock replaces the wall clock (tests).
func WithClock(c clock.Clock) Option { return func(a *App) { a.clk = c } }

// WithNotifier replaces the systemd notifier (tests).
func WithNotifier(n systemd.Notifier) Option { return func(a *App) { a.notify = n } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, clk: clock.Real(), notify: systemd.SdNotifier{}}
	for _, o := range opts {
		o(a)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.actions = actions.NewRegistry(actions.Deps{
		Log:   log,
		Bus:   a.bus,
		Store: a.store,
		Clock: a.clk,
	})
	if err := a.validateActions(cfg); err != nil {
		a.closeResources()
		return nil, err
	}

	a.poller = poller.New(mapPollerConfig(cfg), a.clk, log.With(logx.String("comp", "poller")))

	rcfg, err := mapRunnerConfig(cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.runner = runner.New(rcfg, a.poller, log,
		runner.WithClock(a.clk),
		runner.WithBus(a.bus),
		runner.WithNotifier(a.notify),
	)

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.debug = debugsrv.New(dcfg, a.status, log)
	return a, nil
}

func (a *App) Poller() *poller.Poller { return a.poller }
func (a *App) Bus() eventbus.Bus      { return a.bus }
func (a *App) Runner() *runner.Runner { return a.runner }

// DebugAddr is the bound debug server address ("" when disabled).
func (a *App) DebugAddr() string { return a.debug.Addr() }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validateActions checks every period's action list against the registry.
func (a *App) validateActions(cfg *config.Config) error {
	periods, err := cfg.ResolvePeriods()
	if err != nil {
		return err
	}
	for _, p := range periods {
		if err := a.actions.Validate(p.Action); err != nil {
			return fmt.Errorf("period %q: %w", p.Name, err)
		}
	}
	return nil
}

// Start registers the configured periods and launches the poll loop, the
// config watcher and the reload fan-out.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRunnerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		return a.validateActions(cfg)
	})

	cfg := a.cfgm.Get()
	if err := a.applyPeriods(a.sup.Context(), cfg, config.PeriodChanges{}); err != nil {
		return err
	}

	a.sup.GoRestart("poll.loop", a.runner.Run, supervisor.WithMaxRestarts(5))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Debug only: poller.tick arrives every polling interval.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				newCfg = drainLatest(sub, newCfg)
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.debug.Start(a.sup.Context())

	a.log.Info("app started",
		logx.Int("periods", a.poller.Len()),
		logx.Duration("polling", a.poller.Polling()),
	)
	return nil
}

// drainLatest coalesces a burst of reloads into the newest config.
func drainLatest(sub chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// Stop cancels every loop, waits for them within ctx, then closes storage
// and log files.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	start := time.Now()
	a.debug.Stop(ctx)
	err := a.sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		a.log.Warn("stop deadline reached (continuing)", logx.Duration("elapsed", time.Since(start)))
		err = nil
	}
	st := a.runner.Stats()
	a.log.Info("app stopped",
		logx.Duration("took", time.Since(start)),
		logx.Uint64("ticks", st.Ticks),
		logx.Uint64("dispatched", st.Dispatched),
	)
	a.closeResources()
	return err
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
