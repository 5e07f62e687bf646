// Package poller implements a cooperative periodic-event scheduler.
//
// Callers register named periods (an interval plus an optional delay into
// it). Instead of one OS timer per period, the Poller derives a single
// polling interval that lands on every period's trigger point, so one
// sleep/wake loop services them all:
//
//	p := poller.New(poller.Config{}, clock.Real(), log)
//	p.Register("tick", time.Second, nil, 0)
//	p.Register("half", 2*time.Second, onHalf, time.Second)
//	for {
//		if _, err := p.WaitForTick(ctx); err != nil {
//			return err
//		}
//		p.DispatchAll()
//	}
//
// # Windows
//
// Each period owns the window [Delay, Upper) measured from the start of its
// current period. Upper starts at Period and is narrowed to the next larger
// Delay among the registered periods, so delayed sub-events of one period
// never claim overlapping windows. Entering the window sets the fired flag
// once; Check or Dispatch consumes it.
//
// # Polling interval
//
// The interval is the largest minimum/i (i up to Config.SearchLimit) that
// divides every trigger point, checked in decimal arithmetic with
// Config.Precision significant digits. If none does, a power of ten well
// under the largest period or delay is used instead.
package poller
