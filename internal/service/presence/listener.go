package presence

import (
	"context"
	"errors"
	"log"
	"time"

	"radar/internal/feed"
)

// Listener consumes the change feed for the presence table and feeds the
// engine. The feed is a hint: it may lag, repeat or reorder, and the
// poller repairs whatever it gets wrong.
type Listener struct {
	bus        feed.Bus
	engine     *Engine
	refresh    func()
	onDelete   func(id string)
	retryDelay time.Duration
}

// NewListener wires a listener. refresh asks for a full re-read; onDelete
// is told about every deleted id after the engine dropped it.
func NewListener(bus feed.Bus, engine *Engine, refresh func(), onDelete func(id string)) *Listener {
	return &Listener{
		bus:        bus,
		engine:     engine,
		refresh:    refresh,
		onDelete:   onDelete,
		retryDelay: 2 * time.Second,
	}
}

// Run subscribes once and keeps the subscription alive until ctx ends
func (l *Listener) Run(ctx context.Context) {
	for {
		sub, err := l.bus.Subscribe(ctx, feed.SignalTable)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[feed] subscribe failed: %v", err)
		} else {
			// Anything published while we were away is only visible to a re-read
			l.refresh()
			for raw := range sub.Messages() {
				l.Handle(raw)
			}
			sub.Close()
		}

		if ctx.Err() != nil {
			return
		}
		log.Printf("[feed] subscription ended, retrying in %v", l.retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retryDelay):
		}
	}
}

// Handle applies one raw feed message. Corrupt messages are dropped and a
// panic while applying one never escapes the loop.
func (l *Listener) Handle(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[feed] dropping event after panic: %v", r)
			l.refresh()
		}
	}()

	ev, err := feed.Normalize(raw)
	if errors.Is(err, feed.ErrOtherTable) {
		return
	}
	if err != nil {
		log.Printf("[feed] dropping event: %v", err)
		return
	}

	switch ev.Op {
	case feed.OpDelete:
		// Applied on receipt so disappearances show at once
		l.engine.ApplyEvent(ev)
		if l.onDelete != nil {
			l.onDelete(ev.ID)
		}
	case feed.OpInsert, feed.OpUpdate:
		if ev.Record != nil && ev.Record.OwnerID != "" && l.engine.Suppressed(ev.Record.OwnerID) {
			return
		}
		l.engine.ApplyEvent(ev)
		// Partial payloads and unknown owners need the joined row
		if known, ok := l.engine.Known(ev.ID); !ok || !known.Complete() || known.Owner == nil {
			l.refresh()
		}
	}
}
