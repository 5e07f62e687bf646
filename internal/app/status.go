package app

import (
	"time"

	"tickpoll/internal/runner"
)

// Status is served as JSON on the debug server's /status endpoint.
type Status struct {
	Now     time.Time      `json:"now"`
	Minimum string         `json:"minimum"`
	Polling string         `json:"polling"`
	Exact   bool           `json:"exact"`
	Periods []PeriodStatus `json:"periods"`
	Runner  runner.Stats   `json:"runner"`
}

type PeriodStatus struct {
	Name     string    `json:"name"`
	Period   string    `json:"period"`
	Delay    string    `json:"delay,omitempty"`
	Upper    string    `json:"upper"`
	Previous time.Time `json:"previous"`
	Passed   bool      `json:"passed"`
	Attached bool      `json:"attached"`
}

func (a *App) status() any {
	snap := a.poller.Snapshot()
	st := Status{
		Now:     a.clk.Now(),
		Minimum: snap.Minimum.String(),
		Polling: snap.Polling.String(),
		Exact:   snap.Exact,
		Periods: make([]PeriodStatus, 0, len(snap.Records)),
		Runner:  a.runner.Stats(),
	}
	for _, r := range snap.Records {
		ps := PeriodStatus{
			Name:     r.Name,
			Period:   r.Period.String(),
			Upper:    r.Upper.String(),
			Previous: r.Previous,
			Passed:   r.Passed,
			Attached: r.Callback != nil,
		}
		if r.Delay > 0 {
			ps.Delay = r.Delay.String()
		}
		st.Periods = append(st.Periods, ps)
	}
	return st
}
