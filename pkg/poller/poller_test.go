package poller

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
)

func newTestPoller(start time.Time) (*Poller, *clock.Fake) {
	clk := clock.NewFake(start)
	return New(Config{}, clk, logx.Nop()), clk
}

func mustRegister(t *testing.T, p *Poller, name string, period time.Duration, cb Callback, delay time.Duration) Record {
	t.Helper()
	r, err := p.Register(name, period, cb, delay)
	if err != nil {
		t.Fatalf("Register(%q) error: %v", name, err)
	}
	return r
}

func TestRegisterAnchorsToEpochMultiple(t *testing.T) {
	t.Parallel()
	start := time.Unix(1000, int64(700*time.Millisecond))
	p, _ := newTestPoller(start)

	r := mustRegister(t, p, "tick", 3*time.Second, nil, 0)
	if want := time.Unix(999, 0); !r.Previous.Equal(want) {
		t.Fatalf("Previous = %v, want %v", r.Previous, want)
	}
	if r.Passed {
		t.Fatal("new record must not be flagged")
	}
	if r.Upper != r.Period {
		t.Fatalf("Upper = %v, want %v", r.Upper, r.Period)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))

	tests := []struct {
		name   string
		rec    string
		period time.Duration
		delay  time.Duration
		want   error
	}{
		{name: "blank name", rec: "  ", period: time.Second, want: ErrNameRequired},
		{name: "zero period", rec: "a", period: 0, want: ErrInvalidPeriod},
		{name: "negative period", rec: "a", period: -time.Second, want: ErrInvalidPeriod},
		{name: "negative delay", rec: "a", period: time.Second, delay: -1, want: ErrInvalidDelay},
		{name: "delay equals period", rec: "a", period: time.Second, delay: time.Second, want: ErrInvalidDelay},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Register(tt.rec, tt.period, nil, tt.delay)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if p.Len() != 0 {
		t.Fatalf("rejected registrations must not be stored, got %d", p.Len())
	}
}

func TestRegisterUpdatesInPlace(t *testing.T) {
	t.Parallel()
	p, clk := newTestPoller(time.Unix(1000, 0))
	first := mustRegister(t, p, "job", 2*time.Second, nil, 0)

	clk.Advance(500 * time.Millisecond)
	if n := p.Refresh(); n != 1 {
		t.Fatalf("Refresh fired %d, want 1", n)
	}
	before, _ := p.Record("job")

	called := 0
	upd := mustRegister(t, p, "job", 4*time.Second, func(string) { called++ }, time.Second)
	if upd.Period != 4*time.Second || upd.Delay != time.Second || upd.Callback == nil {
		t.Fatalf("update not applied: %+v", upd)
	}
	if !upd.Previous.Equal(before.Previous) || !upd.Passed {
		t.Fatalf("update must keep anchor and flag: before=%v after=%v", before, upd)
	}
	if upd.Previous.Equal(first.Previous) {
		t.Fatal("anchor should have advanced after firing")
	}
	if got := p.Names(); len(got) != 1 {
		t.Fatalf("Names = %v, want a single entry", got)
	}
	if _, err := p.Dispatch("job"); err != nil || called != 1 {
		t.Fatalf("Dispatch err=%v called=%d", err, called)
	}
}

func TestMinimumTracksAllRecords(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	mustRegister(t, p, "a", 5*time.Second, nil, 0)
	mustRegister(t, p, "b", 2*time.Second, nil, 0)
	if got := p.Minimum(); got != 2*time.Second {
		t.Fatalf("Minimum = %v, want 2s", got)
	}
	// Growing the smallest period raises the minimum again.
	mustRegister(t, p, "b", 10*time.Second, nil, 0)
	if got := p.Minimum(); got != 5*time.Second {
		t.Fatalf("Minimum = %v, want 5s", got)
	}
}

func TestUpperBoundsSamePeriod(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	mustRegister(t, p, "a", 2*time.Second, nil, 0)
	mustRegister(t, p, "b", 2*time.Second, nil, time.Second)

	a, _ := p.Record("a")
	b, _ := p.Record("b")
	if a.Upper != time.Second {
		t.Fatalf("a.Upper = %v, want 1s", a.Upper)
	}
	if b.Upper != 2*time.Second {
		t.Fatalf("b.Upper = %v, want 2s", b.Upper)
	}
}

func TestUpperBoundsThreeWindows(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	mustRegister(t, p, "late", 3*time.Second, nil, 2*time.Second)
	mustRegister(t, p, "start", 3*time.Second, nil, 0)
	mustRegister(t, p, "mid", 3*time.Second, nil, time.Second)

	want := map[string]time.Duration{"start": time.Second, "mid": 2 * time.Second, "late": 3 * time.Second}
	for name, upper := range want {
		r, _ := p.Record(name)
		if r.Upper != upper {
			t.Fatalf("%s.Upper = %v, want %v", name, r.Upper, upper)
		}
		if r.Delay > r.Upper || r.Upper > r.Period {
			t.Fatalf("%s violates delay <= upper <= period: %v", name, r)
		}
	}
}

func TestUpperFollowsDelayUpdates(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	mustRegister(t, p, "a", 2*time.Second, nil, 0)
	mustRegister(t, p, "b", 2*time.Second, nil, time.Second)
	mustRegister(t, p, "b", 2*time.Second, nil, 1500*time.Millisecond)

	a, _ := p.Record("a")
	if a.Upper != 1500*time.Millisecond {
		t.Fatalf("a.Upper = %v, want 1.5s after b moved its delay", a.Upper)
	}

	// Moving b out of the group rescans a against every record, b included.
	mustRegister(t, p, "b", 5*time.Second, nil, 1500*time.Millisecond)
	a, _ = p.Record("a")
	if a.Upper != 1500*time.Millisecond {
		t.Fatalf("a.Upper = %v, want 1.5s", a.Upper)
	}
}

func TestSingleFirePerPeriod(t *testing.T) {
	t.Parallel()
	p, clk := newTestPoller(time.Unix(1000, int64(250*time.Millisecond)))
	mustRegister(t, p, "tick", time.Second, nil, 0)
	p.Reset()

	const periods = 5
	transitions := 0
	for i := 0; i < periods; i++ {
		clk.Advance(900 * time.Millisecond)
		p.Refresh()
		// A second refresh inside the same period must not fire again.
		clk.Advance(100 * time.Millisecond)
		p.Refresh()
		ok, err := p.Check("tick")
		if err != nil {
			t.Fatalf("Check error: %v", err)
		}
		if ok {
			transitions++
		}
	}
	if transitions != periods {
		t.Fatalf("transitions = %d, want %d", transitions, periods)
	}
}

func TestTickScenario(t *testing.T) {
	t.Parallel()
	p, clk := newTestPoller(time.Unix(5000, int64(400*time.Millisecond)))
	mustRegister(t, p, "tick", time.Second, nil, 0)
	if n := p.ResetAll(false); n != 1 {
		t.Fatalf("ResetAll = %d, want 1", n)
	}
	clk.Advance(time.Second)
	p.Refresh()

	if ok, _ := p.Check("tick"); !ok {
		t.Fatal("first Check after one period must report fired")
	}
	if ok, _ := p.Check("tick"); ok {
		t.Fatal("second Check must report not fired")
	}
}

func TestCatchUpSkipsMissedWindows(t *testing.T) {
	t.Parallel()
	p, clk := newTestPoller(time.Unix(2000, 0))
	mustRegister(t, p, "tick", time.Second, nil, 0)

	clk.Advance(time.Hour + 300*time.Millisecond)
	if n := p.Refresh(); n != 1 {
		t.Fatalf("Refresh after a long gap fired %d, want 1", n)
	}
	r, _ := p.Record("tick")
	if want := time.Unix(2000+3600+1, 0); !r.Previous.Equal(want) {
		t.Fatalf("Previous = %v, want %v", r.Previous, want)
	}
}

func TestDelayedWindowsAlternate(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(1000, 0))
	mustRegister(t, p, "a", 2*time.Second, nil, 0)
	mustRegister(t, p, "b", 2*time.Second, nil, time.Second)
	if got := p.Polling(); got != time.Second {
		t.Fatalf("Polling = %v, want 1s", got)
	}

	var got []string
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := p.WaitForTick(ctx); err != nil {
			t.Fatalf("WaitForTick: %v", err)
		}
		got = append(got, strings.Join(p.CheckAll(), ","))
		p.DispatchAll()
	}
	want := []string{"b", "a", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tick %d fired %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestCheckAndDispatch(t *testing.T) {
	t.Parallel()
	p, clk := newTestPoller(time.Unix(0, 0))
	var calls []string
	mustRegister(t, p, "a", time.Second, func(name string) { calls = append(calls, name) }, 0)
	mustRegister(t, p, "b", time.Second, nil, 0)
	mustRegister(t, p, "c", 10*time.Second, nil, 5*time.Second)

	clk.Advance(100 * time.Millisecond)
	if n := p.Refresh(); n != 2 {
		t.Fatalf("Refresh fired %d, want 2", n)
	}
	if got := p.CheckAll(); strings.Join(got, ",") != "a,b" {
		t.Fatalf("CheckAll = %v, want [a b]", got)
	}
	// CheckAll does not consume.
	if got := p.CheckAll(); len(got) != 2 {
		t.Fatalf("CheckAll consumed flags: %v", got)
	}

	if ok, err := p.Dispatch("a"); !ok || err != nil {
		t.Fatalf("Dispatch(a) = %v, %v", ok, err)
	}
	if ok, _ := p.Dispatch("a"); ok {
		t.Fatal("Dispatch(a) fired twice")
	}
	if ok, _ := p.Dispatch("c"); ok {
		t.Fatal("c has not reached its delay")
	}
	if n := p.DispatchAll(); n != 1 {
		t.Fatalf("DispatchAll = %d, want 1 (b only)", n)
	}
	if len(calls) != 1 || calls[0] != "a" {
		t.Fatalf("callback calls = %v, want [a]", calls)
	}

	if _, err := p.Check("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Check(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := p.Dispatch("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Dispatch(missing) err = %v, want ErrNotFound", err)
	}
}

func TestCallbackMayReenterPoller(t *testing.T) {
	t.Parallel()
	p, clk := newTestPoller(time.Unix(0, 0))
	var seen []string
	mustRegister(t, p, "a", time.Second, func(string) { seen = p.Names() }, 0)
	clk.Advance(time.Millisecond)
	p.Refresh()
	p.DispatchAll()
	if len(seen) != 1 {
		t.Fatalf("callback did not observe poller: %v", seen)
	}
}

func TestResetAllSetsStatusAndNextBoundary(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(100, int64(500*time.Millisecond)))
	mustRegister(t, p, "a", time.Second, nil, 0)
	mustRegister(t, p, "b", 4*time.Second, nil, 0)

	if n := p.ResetAll(true); n != 2 {
		t.Fatalf("ResetAll = %d, want 2", n)
	}
	a, _ := p.Record("a")
	b, _ := p.Record("b")
	if !a.Previous.Equal(time.Unix(101, 0)) || !b.Previous.Equal(time.Unix(104, 0)) {
		t.Fatalf("unexpected anchors: a=%v b=%v", a.Previous, b.Previous)
	}
	if !a.Passed || !b.Passed {
		t.Fatal("ResetAll(true) must set every flag")
	}
	p.Reset()
	if got := p.CheckAll(); len(got) != 0 {
		t.Fatalf("Reset left flags set: %v", got)
	}
}

func TestWaitForTickPhaseLocked(t *testing.T) {
	t.Parallel()
	p, clk := newTestPoller(time.Unix(1000, int64(300*time.Millisecond)))
	mustRegister(t, p, "tick", time.Second, nil, 0)

	n, err := p.WaitForTick(context.Background())
	if err != nil {
		t.Fatalf("WaitForTick: %v", err)
	}
	if n != 1 {
		t.Fatalf("WaitForTick fired %d, want 1", n)
	}
	if waits := clk.Waits(); len(waits) != 1 || waits[0] != 700*time.Millisecond {
		t.Fatalf("waits = %v, want [700ms]", waits)
	}
	if !clk.Now().Equal(time.Unix(1001, 0)) {
		t.Fatalf("woke at %v, want boundary", clk.Now())
	}
}

func TestWaitForTickEmptyAndCancelled(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	if _, err := p.WaitForTick(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}

	// Real clock with a long polling interval: cancellation must win.
	rp := New(Config{}, clock.Real(), logx.Nop())
	if _, err := rp.Register("slow", time.Hour, nil, 0); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rp.WaitForTick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPollingCommonDenominator(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		periods []time.Duration
		delays  []time.Duration
		want    time.Duration
	}{
		{name: "single", periods: []time.Duration{5 * time.Second}, delays: []time.Duration{0}, want: 5 * time.Second},
		{name: "multiples", periods: []time.Duration{2 * time.Second, 6 * time.Second}, delays: []time.Duration{0, 0}, want: 2 * time.Second},
		{name: "coprime", periods: []time.Duration{2 * time.Second, 3 * time.Second}, delays: []time.Duration{0, 0}, want: time.Second},
		{name: "delay", periods: []time.Duration{10 * time.Second}, delays: []time.Duration{2500 * time.Millisecond}, want: 2500 * time.Millisecond},
		{name: "tenths", periods: []time.Duration{300 * time.Millisecond, 700 * time.Millisecond}, delays: []time.Duration{0, 0}, want: 100 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := newTestPoller(time.Unix(0, 0))
			for i := range tt.periods {
				mustRegister(t, p, string(rune('a'+i)), tt.periods[i], nil, tt.delays[i])
			}
			snap := p.Snapshot()
			if !snap.Exact {
				t.Fatalf("expected exact polling, got fallback %v", snap.Polling)
			}
			if snap.Polling != tt.want {
				t.Fatalf("Polling = %v, want %v", snap.Polling, tt.want)
			}
		})
	}
}

func TestPollingFallbackTerminates(t *testing.T) {
	t.Parallel()
	pi := 3141592653 * time.Nanosecond
	tests := []struct {
		name string
		a, b time.Duration
		want time.Duration
	}{
		{name: "unit", a: time.Second, b: pi, want: 10 * time.Millisecond},
		{name: "sub-unit", a: 500 * time.Millisecond, b: pi / 2, want: time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := newTestPoller(time.Unix(0, 0))
			mustRegister(t, p, "a", tt.a, nil, 0)
			mustRegister(t, p, "b", tt.b, nil, 0)
			snap := p.Snapshot()
			if snap.Exact {
				t.Fatalf("expected fallback, got exact %v", snap.Polling)
			}
			if snap.Polling != tt.want {
				t.Fatalf("Polling = %v, want %v", snap.Polling, tt.want)
			}
		})
	}
}

func TestPollingRejectsFractionalCandidates(t *testing.T) {
	t.Parallel()
	// 10s/30 is 333333333.3ns; at 9 digits it looks like it divides both
	// 10s and the 3333333333ns delay.
	p, _ := newTestPoller(time.Unix(0, 0))
	mustRegister(t, p, "x", 10*time.Second, nil, 0)
	mustRegister(t, p, "y", 10*time.Second, nil, 3333333333*time.Nanosecond)

	snap := p.Snapshot()
	if snap.Exact {
		t.Fatalf("expected fallback, got exact %v", snap.Polling)
	}
	if snap.Polling != 100*time.Millisecond {
		t.Fatalf("Polling = %v, want 100ms", snap.Polling)
	}
}

func TestPollingExactDividesEveryTrigger(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	mustRegister(t, p, "a", 7*time.Second, nil, 0)
	mustRegister(t, p, "b", 21*time.Second, nil, 3500*time.Millisecond)

	snap := p.Snapshot()
	if !snap.Exact {
		t.Fatalf("expected exact polling, got fallback %v", snap.Polling)
	}
	for _, r := range snap.Records {
		tp := r.Period
		if r.Delay > 0 {
			tp = r.Delay
		}
		if tp%snap.Polling != 0 {
			t.Fatalf("%s: trigger %v not a multiple of polling %v", r.Name, tp, snap.Polling)
		}
	}
}

func TestFallbackUsesLargestDelay(t *testing.T) {
	t.Parallel()
	if got := fallbackPolling(time.Second, 250*time.Second); got != time.Second {
		t.Fatalf("fallbackPolling = %v, want 1s", got)
	}
	if got := fallbackPolling(time.Nanosecond, 0); got != time.Nanosecond {
		t.Fatalf("fallbackPolling = %v, want 1ns floor", got)
	}
}

func TestSearchLimitIsConfigurable(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	mustRegister(t, p, "a", 7*time.Second, nil, 0)
	mustRegister(t, p, "b", 7*time.Second, nil, time.Second)
	if got := p.Polling(); got != time.Second {
		t.Fatalf("Polling = %v, want 1s", got)
	}

	p.Apply(Config{SearchLimit: 3})
	if snap := p.Snapshot(); snap.Exact {
		t.Fatalf("SearchLimit 3 cannot reach 7s/7, got exact %v", snap.Polling)
	}
}

func TestStringDump(t *testing.T) {
	t.Parallel()
	p, _ := newTestPoller(time.Unix(0, 0))
	if got := p.String(); got != "Poller: <empty>" {
		t.Fatalf("String() = %q", got)
	}
	mustRegister(t, p, "quiet", 2*time.Second, nil, 0)
	mustRegister(t, p, "loud", 2*time.Second, namedCallback, time.Second)

	out := p.String()
	for _, want := range []string{
		"Minimum:    2.000 - polling:    1.000",
		"quiet - PER:2.000, DLAY:0.000, UPPR:1.000",
		"FUNC:<none>",
		"FUNC:poller.namedCallback",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("String() missing %q:\n%s", want, out)
		}
	}
}

func namedCallback(string) {}
