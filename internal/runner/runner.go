package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tickpoll/internal/eventbus"
	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
	"tickpoll/pkg/poller"
	"tickpoll/pkg/systemd"
)

const (
	DefaultOverrunWarnEvery = 5 * time.Second
	emptyBackoff            = time.Second
)

type Config struct {
	// OverrunWarnEvery throttles "ticks skipped" warnings.
	OverrunWarnEvery time.Duration
	// Watchdog sends WATCHDOG=1 after every tick.
	Watchdog bool
	// ResetOnStart re-anchors every period before the first wait.
	ResetOnStart bool
}

// Tick is the outcome of one loop iteration.
type Tick struct {
	At         time.Time
	Fired      int // periods that entered their window
	Dispatched int // callbacks run
	Polling    time.Duration
	Skipped    int // polling boundaries passed without a wake-up
}

type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Dispatched uint64 `json:"dispatched"`
	Overruns   uint64 `json:"overruns"`
	Skipped    uint64 `json:"skipped"`
}

// Runner drives a Poller: wait for the next polling boundary, then dispatch
// every period that fired.
type Runner struct {
	p      *poller.Poller
	clk    clock.Clock
	log    logx.Logger
	bus    eventbus.Bus
	notify systemd.Notifier

	mu      sync.Mutex
	cfg     Config
	overrun *rate.Sometimes

	// Boundary of the previous tick and the polling it was computed with.
	lastBoundary int64
	lastPolling  time.Duration

	ticks      atomic.Uint64
	dispatched atomic.Uint64
	overruns   atomic.Uint64
	skipped    atomic.Uint64
}

type Option func(*Runner)

func WithNotifier(n systemd.Notifier) Option { return func(r *Runner) { r.notify = n } }
func WithBus(b eventbus.Bus) Option          { return func(r *Runner) { r.bus = b } }
func WithClock(c clock.Clock) Option         { return func(r *Runner) { r.clk = c } }

// New returns a Runner. The clock should be the one the Poller uses.
func New(cfg Config, p *poller.Poller, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		p:      p,
		clk:    clock.Real(),
		log:    log.With(logx.String("comp", "runner")),
		notify: systemd.Nop{},
	}
	for _, o := range opts {
		o(r)
	}
	r.Apply(cfg)
	return r
}

func (r *Runner) Apply(cfg Config) {
	if cfg.OverrunWarnEvery <= 0 {
		cfg.OverrunWarnEvery = DefaultOverrunWarnEvery
	}
	r.mu.Lock()
	r.cfg = cfg
	r.overrun = &rate.Sometimes{Interval: cfg.OverrunWarnEvery}
	r.mu.Unlock()
}

func (r *Runner) Stats() Stats {
	return Stats{
		Ticks:      r.ticks.Load(),
		Dispatched: r.dispatched.Load(),
		Overruns:   r.overruns.Load(),
		Skipped:    r.skipped.Load(),
	}
}

// Run loops until ctx is done. It reports READY to systemd before the first
// wait and STOPPING on the way out.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	if cfg.ResetOnStart {
		r.p.Reset()
	}
	if _, err := systemd.Ready(r.notify); err != nil {
		r.log.Warn("sd_notify READY failed", logx.Err(err))
	}
	_, _ = systemd.Status(r.notify, "polling %d periods every %s", r.p.Len(), r.p.Polling())
	r.log.Info("poll loop started",
		logx.Int("periods", r.p.Len()),
		logx.Duration("minimum", r.p.Minimum()),
		logx.Duration("polling", r.p.Polling()),
	)
	defer func() {
		_, _ = systemd.Stopping(r.notify)
		st := r.Stats()
		r.log.Info("poll loop stopped",
			logx.Uint64("ticks", st.Ticks),
			logx.Uint64("dispatched", st.Dispatched),
			logx.Uint64("overruns", st.Overruns),
		)
	}()

	for {
		_, err := r.Step(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, poller.ErrEmpty):
			select {
			case <-ctx.Done():
				return nil
			case <-r.clk.After(emptyBackoff):
			}
		default:
			return err
		}
	}
}

// Step waits for one tick and dispatches what fired.
func (r *Runner) Step(ctx context.Context) (Tick, error) {
	fired, err := r.p.WaitForTick(ctx)
	if err != nil {
		return Tick{}, err
	}
	now := r.clk.Now()
	polling := r.p.Polling()
	t := Tick{At: now, Fired: fired, Polling: polling}
	t.Skipped = r.trackBoundary(now, polling)

	t.Dispatched = r.p.DispatchAll()

	r.ticks.Add(1)
	r.dispatched.Add(uint64(t.Dispatched))
	r.log.Trace("tick",
		logx.Time("at", now),
		logx.Int("fired", fired),
		logx.Int("dispatched", t.Dispatched),
		logx.Duration("polling", polling),
	)

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypePollerTick,
			Time: now,
			Data: eventbus.PollerTick{Fired: t.Dispatched, Polling: polling, Late: time.Duration(t.Skipped) * polling},
		})
	}

	r.mu.Lock()
	watchdog := r.cfg.Watchdog
	r.mu.Unlock()
	if watchdog {
		if _, err := systemd.Watchdog(r.notify); err != nil {
			r.log.Debug("sd_notify WATCHDOG failed", logx.Err(err))
		}
	}
	return t, nil
}

// trackBoundary returns how many polling boundaries were passed since the
// previous tick without a wake-up, warning (throttled) when any were.
func (r *Runner) trackBoundary(now time.Time, polling time.Duration) int {
	ns := now.UnixNano()
	mod := ns % int64(polling)
	if mod < 0 {
		mod += int64(polling)
	}
	boundary := ns - mod

	r.mu.Lock()
	prev, prevPolling := r.lastBoundary, r.lastPolling
	r.lastBoundary, r.lastPolling = boundary, polling
	warn := r.overrun
	r.mu.Unlock()

	if prevPolling != polling || prev == 0 {
		return 0
	}
	skipped := int((boundary-prev)/int64(polling)) - 1
	if skipped <= 0 {
		return 0
	}
	r.overruns.Add(1)
	r.skipped.Add(uint64(skipped))
	warn.Do(func() {
		r.log.Warn("poll loop overran; ticks skipped",
			logx.Int("skipped", skipped),
			logx.Duration("polling", polling),
			logx.Uint64("overruns_total", r.overruns.Load()),
		)
	})
	return skipped
}
