package poller

import (
	"fmt"
	"strings"
	"time"
)

// Check reports whether the named period has fired and clears the flag.
// A true result must be acted on by the caller: the next Check returns false
// until the period fires again.
func (p *Poller) Check(name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.recs[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	passed := r.Passed
	r.Passed = false
	return passed, nil
}

// Dispatch is Check plus invoking the period's callback (with its name) when
// the flag was set.
func (p *Poller) Dispatch(name string) (bool, error) {
	p.mu.Lock()
	r, ok := p.recs[name]
	if !ok {
		p.mu.Unlock()
		return false, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	passed := r.Passed
	cb := r.Callback
	r.Passed = false
	p.mu.Unlock()

	if passed && cb != nil {
		cb(name)
	}
	return passed, nil
}

// DispatchAll dispatches every period in registration order and returns how
// many fired.
func (p *Poller) DispatchAll() int {
	fired := 0
	for _, n := range p.Names() {
		ok, err := p.Dispatch(n)
		if err == nil && ok {
			fired++
		}
	}
	return fired
}

// CheckAll returns the names of the periods currently flagged, in
// registration order. Flags are left untouched.
func (p *Poller) CheckAll() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, n := range p.order {
		if p.recs[n].Passed {
			out = append(out, n)
		}
	}
	return out
}

// Names returns every registered name in registration order.
func (p *Poller) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Record returns a copy of the named period.
func (p *Poller) Record(name string) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.recs[name]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

func (p *Poller) Minimum() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minimum
}

func (p *Poller) Polling() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polling
}

func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	recs := make([]Record, 0, len(p.order))
	for _, n := range p.order {
		recs = append(recs, *p.recs[n])
	}
	return Snapshot{
		Minimum: p.minimum,
		Polling: p.polling,
		Exact:   p.exact,
		Records: recs,
	}
}

// String renders the derived intervals and one line per period.
func (p *Poller) String() string {
	snap := p.Snapshot()
	if len(snap.Records) == 0 {
		return "Poller: <empty>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Minimum: %8.3f - polling: %8.3f\n", snap.Minimum.Seconds(), snap.Polling.Seconds())
	for _, r := range snap.Records {
		fmt.Fprintf(&b, "%s - %s\n", r.Name, r)
	}
	return b.String()
}
