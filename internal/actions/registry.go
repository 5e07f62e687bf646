package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tickpoll/internal/eventbus"
	"tickpoll/internal/storage"
	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
	"tickpoll/pkg/poller"
)

const errorWarnThrottle = 5 * time.Second

// Registry maps action names to funcs and builds poller callbacks from
// action lists such as "log,record".
type Registry struct {
	log logx.Logger
	clk clock.Clock

	mu    sync.RWMutex
	funcs map[string]Func

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// NewRegistry returns a registry with the built-in actions wired to deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	r := &Registry{
		log:      deps.Log.With(logx.String("comp", "actions")),
		clk:      deps.Clock,
		funcs:    map[string]Func{},
		lastWarn: map[string]time.Time{},
	}

	r.Register(Log, func(_ context.Context, spec Spec, at time.Time) error {
		r.log.Info("period fired",
			logx.String("period", spec.Name),
			logx.Duration("every", spec.Period),
			logx.Duration("delay", spec.Delay),
			logx.Time("at", at),
		)
		return nil
	})
	if deps.Bus != nil {
		bus := deps.Bus
		r.Register(Event, func(_ context.Context, spec Spec, at time.Time) error {
			bus.Publish(eventbus.Event{
				Type: eventbus.TypePeriodFired,
				Time: at,
				Data: eventbus.PeriodFired{Name: spec.Name, Period: spec.Period, Delay: spec.Delay, Action: spec.Action},
			})
			return nil
		})
	}
	if deps.Store != nil {
		st := deps.Store
		r.Register(Record, func(ctx context.Context, spec Spec, at time.Time) error {
			return st.AppendFire(ctx, storage.FireEntry{
				At: at, Name: spec.Name, Period: spec.Period, Delay: spec.Delay, Action: spec.Action,
			})
		})
	}
	return r
}

// Register adds or replaces a named action.
func (r *Registry) Register(name string, fn Func) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// parse splits an action list and resolves every name.
func (r *Registry) parse(action string) ([]string, []Func, error) {
	var (
		names []string
		funcs []Func
	)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, part := range strings.Split(action, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		fn, ok := r.funcs[name]
		if !ok {
			if name == Record {
				return nil, nil, fmt.Errorf("%w: %q", ErrNoStore, name)
			}
			return nil, nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownAction, name, strings.Join(r.namesLocked(), ", "))
		}
		names = append(names, name)
		funcs = append(funcs, fn)
	}
	if len(funcs) == 0 {
		return nil, nil, fmt.Errorf("%w: empty action list", ErrUnknownAction)
	}
	return names, funcs, nil
}

func (r *Registry) namesLocked() []string {
	out := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate reports whether every name in the action list is known.
func (r *Registry) Validate(action string) error {
	_, _, err := r.parse(action)
	return err
}

// Callback binds spec's action list to a poller callback. Action errors are
// logged (throttled per period) and never stop the remaining actions.
func (r *Registry) Callback(ctx context.Context, spec Spec) (poller.Callback, error) {
	names, funcs, err := r.parse(spec.Action)
	if err != nil {
		return nil, err
	}
	return func(string) {
		at := r.clk.Now()
		for i, fn := range funcs {
			if err := fn(ctx, spec, at); err != nil {
				r.reportError(spec.Name, names[i], err)
			}
		}
	}, nil
}

func (r *Registry) reportError(period, action string, err error) {
	key := period + "/" + action
	now := r.clk.Now()
	r.warnMu.Lock()
	last, seen := r.lastWarn[key]
	if seen && now.Sub(last) < errorWarnThrottle {
		r.warnMu.Unlock()
		r.log.Debug("action failed", logx.String("period", period), logx.String("action", action), logx.Err(err))
		return
	}
	r.lastWarn[key] = now
	r.warnMu.Unlock()

	r.log.Warn("action failed", logx.String("period", period), logx.String("action", action), logx.Err(err))
}
