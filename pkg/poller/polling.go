package poller

import (
	"math"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// derivePolling finds the largest minimum/i (i = 1..SearchLimit) that divides
// every trigger point, using decimal arithmetic at cfg.Precision significant
// digits so binary rounding noise cannot hide an exact match.
//
// A candidate only counts when it is a whole number of nanoseconds and
// divides every trigger point exactly, so Exact wake-ups stay on the
// period boundaries.
//
// When no candidate divides them all it falls back to a power of ten two
// orders (three below one second) under the largest of minimum and the
// delays. The boolean reports whether the search succeeded.
func derivePolling(cfg Config, minimum time.Duration, recs []*Record) (time.Duration, bool) {
	if len(recs) == 0 || minimum <= 0 {
		return 0, false
	}
	cfg = cfg.withDefaults()

	ctx := apd.BaseContext.WithPrecision(cfg.Precision)
	lo := apd.New(int64(minimum), 0)
	var per apd.Decimal
	for i := 1; i <= cfg.SearchLimit; i++ {
		if int64(minimum)%int64(i) != 0 {
			continue
		}
		if _, err := ctx.Quo(&per, lo, apd.New(int64(i), 0)); err != nil {
			break
		}
		if !dividesAll(ctx, &per, recs) {
			continue
		}
		// Limited precision can round a large quotient to an integer.
		if d := minimum / time.Duration(i); d > 0 && dividesExactly(d, recs) {
			return d, true
		}
	}

	var maxDelay time.Duration
	for _, r := range recs {
		if r.Delay > maxDelay {
			maxDelay = r.Delay
		}
	}
	return fallbackPolling(minimum, maxDelay), false
}

func dividesAll(ctx *apd.Context, per *apd.Decimal, recs []*Record) bool {
	var q, integ, frac apd.Decimal
	for _, r := range recs {
		if _, err := ctx.Quo(&q, apd.New(int64(r.triggerPoint()), 0), per); err != nil {
			return false
		}
		if _, err := ctx.Floor(&integ, &q); err != nil {
			return false
		}
		if _, err := ctx.Sub(&frac, &q, &integ); err != nil {
			return false
		}
		if !frac.IsZero() {
			return false
		}
	}
	return true
}

func dividesExactly(per time.Duration, recs []*Record) bool {
	for _, r := range recs {
		if r.triggerPoint()%per != 0 {
			return false
		}
	}
	return true
}

func fallbackPolling(minimum, maxDelay time.Duration) time.Duration {
	m := minimum
	if maxDelay > m {
		m = maxDelay
	}
	lg := math.Log10(m.Seconds())
	exp := int(math.Trunc(lg)) - 2
	if lg < 0 {
		exp--
	}
	// exp is in seconds; shift to nanoseconds so Pow10 stays integral.
	if exp+9 < 0 {
		return time.Nanosecond
	}
	return time.Duration(math.Round(math.Pow10(exp + 9)))
}
