package app

import (
	"tickpoll/internal/config"
	"tickpoll/internal/storage"
	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
	"tickpoll/pkg/poller"
)

// Plan builds a poller from cfg without callbacks, for inspecting the
// derived minimum, polling interval and windows.
func Plan(cfg *config.Config, clk clock.Clock, log logx.Logger) (*poller.Poller, error) {
	periods, err := cfg.ResolvePeriods()
	if err != nil {
		return nil, err
	}
	p := poller.New(mapPollerConfig(cfg), clk, log)
	for _, pc := range periods {
		if _, err := p.Register(pc.Name, pc.Every, nil, pc.Delay); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// OpenHistory opens the configured store read side. It returns
// storage.ErrDisabled when cfg has no storage section.
func OpenHistory(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}
