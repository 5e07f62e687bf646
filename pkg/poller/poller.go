package poller

import (
	"fmt"
	"strings"
	"time"

	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
)

// New returns an empty Poller. A nil clk means clock.Real().
func New(cfg Config, clk clock.Clock, log logx.Logger) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		cfg:  cfg.withDefaults(),
		clk:  clk,
		log:  log,
		recs: map[string]*Record{},
	}
}

// Apply swaps the derivation settings and recomputes the polling interval.
func (p *Poller) Apply(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg.withDefaults()
	p.recomputePollingLocked()
}

// Register adds the named period, or updates it in place when the name is
// already registered (keeping its anchor and fired flag).
//
// New periods are anchored to the start of the current period window,
// aligned to the Unix epoch. The minimum period, the polling interval and
// the window upper bounds of every period sharing this length are
// recomputed before returning.
func (p *Poller) Register(name string, period time.Duration, cb Callback, delay time.Duration) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, ErrNameRequired
	}
	if period <= 0 {
		return Record{}, fmt.Errorf("%s: %w (got %s)", name, ErrInvalidPeriod, period)
	}
	if delay < 0 || delay >= period {
		return Record{}, fmt.Errorf("%s: %w (delay %s, period %s)", name, ErrInvalidDelay, delay, period)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var oldPeriod time.Duration
	r, ok := p.recs[name]
	if ok {
		oldPeriod = r.Period
		r.Period = period
		r.Delay = delay
		r.Callback = cb
	} else {
		r = &Record{
			Name:     name,
			Period:   period,
			Delay:    delay,
			Upper:    period,
			Previous: floorAlign(p.clk.Now(), period),
			Callback: cb,
		}
		p.recs[name] = r
		p.order = append(p.order, name)
	}

	p.recomputeMinimumLocked()
	p.recomputePollingLocked()
	p.recomputeUpperLocked(period)
	if ok && oldPeriod != period {
		// The record left its old group; its delay no longer bounds them.
		p.recomputeUpperLocked(oldPeriod)
	}

	p.log.Debug("period registered",
		logx.String("name", name),
		logx.Duration("period", period),
		logx.Duration("delay", delay),
		logx.Duration("upper", r.Upper),
		logx.Duration("polling", p.polling),
		logx.Bool("exact", p.exact),
		logx.Bool("updated", ok),
	)
	return *r, nil
}

func (p *Poller) recomputeMinimumLocked() {
	p.minimum = 0
	for _, n := range p.order {
		r := p.recs[n]
		if p.minimum == 0 || r.Period < p.minimum {
			p.minimum = r.Period
		}
	}
}

func (p *Poller) recomputePollingLocked() {
	p.polling, p.exact = derivePolling(p.cfg, p.minimum, p.orderedLocked())
	if !p.exact && len(p.order) > 0 {
		p.log.Debug("polling from magnitude fallback",
			logx.Duration("minimum", p.minimum),
			logx.Duration("polling", p.polling),
			logx.Int("search_limit", p.cfg.SearchLimit),
		)
	}
}

// recomputeUpperLocked narrows the window of every period of the given length
// so it closes where a later-delayed period opens.
func (p *Poller) recomputeUpperLocked(period time.Duration) {
	for _, xn := range p.order {
		x := p.recs[xn]
		if x.Period != period {
			continue
		}
		x.Upper = x.Period
		for _, yn := range p.order {
			y := p.recs[yn]
			if y.Delay > x.Delay && y.Delay < x.Upper {
				x.Upper = y.Delay
			}
		}
	}
}

func (p *Poller) orderedLocked() []*Record {
	out := make([]*Record, 0, len(p.order))
	for _, n := range p.order {
		out = append(out, p.recs[n])
	}
	return out
}

// floorAlign returns the latest multiple of period (since the Unix epoch)
// that is not after t.
func floorAlign(t time.Time, period time.Duration) time.Time {
	ns := t.UnixNano()
	return time.Unix(0, ns-floorMod(ns, int64(period)))
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
