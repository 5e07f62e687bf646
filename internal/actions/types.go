package actions

import (
	"context"
	"errors"
	"time"

	"tickpoll/internal/eventbus"
	"tickpoll/internal/storage"
	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrNoStore       = errors.New("record action needs storage")
)

// Built-in action names.
const (
	Log    = "log"
	Event  = "event"
	Record = "record"
)

// Spec describes the period an action is bound to.
type Spec struct {
	Name   string
	Period time.Duration
	Delay  time.Duration
	Action string
}

// Func runs when a period fires.
type Func func(ctx context.Context, spec Spec, at time.Time) error

// Deps are the components the built-in actions write to. Nil Bus or Store
// leaves the matching action unavailable.
type Deps struct {
	Log   logx.Logger
	Bus   eventbus.Bus
	Store storage.Store
	Clock clock.Clock
}
