package poller

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
)

const (
	DefaultSearchLimit = 100
	DefaultPrecision   = 9
)

var (
	ErrNotFound      = errors.New("period not found")
	ErrNameRequired  = errors.New("name required")
	ErrInvalidPeriod = errors.New("period must be > 0")
	ErrInvalidDelay  = errors.New("delay must be >= 0 and < period")
	ErrEmpty         = errors.New("no periods registered")
)

// Config controls the polling interval derivation.
type Config struct {
	// SearchLimit is the number of candidate divisors (minimum/1 .. minimum/N)
	// tried before falling back to the magnitude heuristic.
	SearchLimit int
	// Precision is the number of significant decimal digits used when
	// checking that a candidate divides every trigger point.
	Precision uint32
}

func (c Config) withDefaults() Config {
	if c.SearchLimit <= 0 {
		c.SearchLimit = DefaultSearchLimit
	}
	if c.Precision == 0 {
		c.Precision = DefaultPrecision
	}
	return c
}

// Callback is invoked with the period name when a fired period is dispatched.
// A nil Callback means the period is query-only.
type Callback func(name string)

// Record is the timing state of one registered period.
//
// Offsets (Delay, Upper) are measured from Previous, the start of the
// current period window. Invariant: 0 <= Delay <= Upper <= Period.
type Record struct {
	Name     string
	Period   time.Duration
	Delay    time.Duration
	Upper    time.Duration
	Previous time.Time
	Passed   bool
	Callback Callback
}

func (r Record) String() string {
	return fmt.Sprintf("PER:%.3f, DLAY:%.3f, UPPR:%.3f, PREV:%.3f, PASS:%t - FUNC:%s",
		r.Period.Seconds(),
		r.Delay.Seconds(),
		r.Upper.Seconds(),
		float64(r.Previous.UnixNano())/float64(time.Second),
		r.Passed,
		callbackName(r.Callback),
	)
}

// triggerPoint is the offset that the polling interval must land on.
func (r *Record) triggerPoint() time.Duration {
	if r.Delay > 0 {
		return r.Delay
	}
	return r.Period
}

func callbackName(cb Callback) string {
	if cb == nil {
		return "<none>"
	}
	fn := runtime.FuncForPC(reflect.ValueOf(cb).Pointer())
	if fn == nil {
		return "<func>"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Poller owns a set of named periods and the shared polling interval that
// services them all.
//
// All methods are safe for concurrent use. Callbacks run without the
// internal lock held, so they may call back into the Poller.
type Poller struct {
	mu sync.Mutex

	cfg   Config
	clk   clock.Clock
	log   logx.Logger
	order []string
	recs  map[string]*Record

	minimum time.Duration
	polling time.Duration
	exact   bool
}

// Snapshot is a point-in-time copy of the poller state.
type Snapshot struct {
	Minimum time.Duration
	Polling time.Duration
	// Exact is false when the polling interval came from the magnitude
	// fallback rather than the common-denominator search.
	Exact   bool
	Records []Record
}
