package feed

import (
	"context"
	"log"
	"sync"
)

// Bus carries raw change-feed messages from the store to every subscriber
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, table string) (Subscription, error)
	Close() error
}

// Subscription delivers raw messages until closed or its context ends
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// subscriberBuffer is how many messages a slow subscriber may lag behind
const subscriberBuffer = 64

// MemoryBus is an in-process Bus used for single-node runs and tests
type MemoryBus struct {
	mutex  sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySubscription]struct{})}
}

// Publish fans the event out to every subscriber of its table. A full
// subscriber buffer drops the message; the poller repairs the gap.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	raw, err := Encode(ev)
	if err != nil {
		return err
	}
	b.PublishRaw(SignalTable, raw)
	return nil
}

// PublishRaw delivers an already encoded message
func (b *MemoryBus) PublishRaw(table string, raw []byte) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for sub := range b.subs {
		if sub.table != table {
			continue
		}
		select {
		case sub.ch <- raw:
		default:
			log.Printf("[feed] subscriber buffer full, dropping %d bytes", len(raw))
		}
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, table string) (Subscription, error) {
	sub := &memorySubscription{
		bus:   b,
		table: table,
		ch:    make(chan []byte, subscriberBuffer),
	}

	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		sub.once.Do(func() { close(sub.ch) })
		return sub, nil
	}
	b.subs[sub] = struct{}{}
	b.mutex.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = make(map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	bus   *MemoryBus
	table string
	ch    chan []byte
	once  sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.bus.mutex.Lock()
	defer s.bus.mutex.Unlock()

	delete(s.bus.subs, s)
	s.once.Do(func() { close(s.ch) })
	return nil
}
