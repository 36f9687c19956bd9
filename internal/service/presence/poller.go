package presence

import (
	"context"
	"log"
	"time"

	"radar/internal/model"
)

// Poller re-reads every active signal on a fixed interval, whatever the
// feed is doing, and on demand
type Poller struct {
	store      Store
	interval   time.Duration
	onSnapshot func([]*model.PresenceSignal)
	trigger    chan struct{}
}

func NewPoller(store Store, interval time.Duration, onSnapshot func([]*model.PresenceSignal)) *Poller {
	return &Poller{
		store:      store,
		interval:   interval,
		onSnapshot: onSnapshot,
		trigger:    make(chan struct{}, 1),
	}
}

// Refresh asks for a read soon. Requests made while one is pending merge.
func (p *Poller) Refresh() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls immediately, then on every tick or refresh until ctx ends
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		}
		p.PollOnce(ctx)
	}
}

// PollOnce reads the full set and hands it over
func (p *Poller) PollOnce(ctx context.Context) error {
	signals, err := p.store.ReadAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[presence] poll failed: %v", err)
		}
		return err
	}
	p.onSnapshot(signals)
	return nil
}
