package poller

import (
	"context"
	"time"
)

// Refresh advances every period against the current time and flags the ones
// whose window has been entered. It returns how many periods fired in this
// call.
//
// Windows missed during a long gap (e.g. process suspension) are skipped, not
// replayed. A period that fires has its anchor moved one period forward, so
// it fires at most once per period.
func (p *Poller) Refresh() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(p.clk.Now())
}

func (p *Poller) refreshLocked(now time.Time) int {
	fired := 0
	for _, n := range p.order {
		r := p.recs[n]
		// Restore Previous <= now < Previous+Period.
		if gap := now.Sub(r.Previous); gap >= r.Period {
			r.Previous = r.Previous.Add((gap / r.Period) * r.Period)
		}
		elapsed := now.Sub(r.Previous)
		if r.Delay <= elapsed && elapsed < r.Upper {
			r.Previous = r.Previous.Add(r.Period)
			r.Passed = true
			fired++
		}
	}
	return fired
}

// WaitForTick blocks until the next multiple of the polling interval since the
// Unix epoch, then refreshes. The wait accounts for time already spent in the
// current slice, keeping the loop phase-locked to absolute time.
//
// It returns the number of periods that fired, ErrEmpty when nothing is
// registered, or ctx.Err() if ctx ends first.
func (p *Poller) WaitForTick(ctx context.Context) (int, error) {
	p.mu.Lock()
	polling := p.polling
	p.mu.Unlock()
	if polling <= 0 {
		return 0, ErrEmpty
	}

	now := p.clk.Now()
	wait := polling - time.Duration(floorMod(now.UnixNano(), int64(polling)))

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.clk.After(wait):
	}
	return p.Refresh(), nil
}

// ResetAll re-anchors every period to its next boundary after now and sets
// every fired flag to status. It returns the number of periods affected.
func (p *Poller) ResetAll(status bool) int {
	return p.setStatusAll(status)
}

// Reset is ResetAll(false): measurement restarts from the next boundaries.
func (p *Poller) Reset() int {
	return p.setStatusAll(false)
}

func (p *Poller) setStatusAll(status bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	for _, n := range p.order {
		r := p.recs[n]
		r.Previous = floorAlign(now, r.Period).Add(r.Period)
		r.Passed = status
	}
	return len(p.order)
}
