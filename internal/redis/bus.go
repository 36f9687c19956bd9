package redis

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"radar/internal/feed"
)

// ChannelPrefix namespaces the pub/sub channels used for the change feed
const ChannelPrefix = "feed"

// Bus is a feed.Bus over Redis pub/sub. Delivery is at-most-once, which is
// all the feed promises; the poller covers anything lost.
type Bus struct {
	client *redis.Client
}

func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func channelFor(table string) string {
	return fmt.Sprintf("%s:%s", ChannelPrefix, table)
}

func (b *Bus) Publish(ctx context.Context, ev feed.Event) error {
	raw, err := feed.Encode(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(feed.SignalTable), raw).Err()
}

func (b *Bus) Subscribe(ctx context.Context, table string) (feed.Subscription, error) {
	ps := b.client.Subscribe(ctx, channelFor(table))

	// Wait for the subscription confirmation so no event published after
	// Subscribe returns can be missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	sub := &subscription{ps: ps, out: make(chan []byte, 64)}
	go sub.pump(ctx)
	return sub, nil
}

// Client returns the connection the bus runs on
func (b *Bus) Client() *redis.Client {
	return b.client
}

// Close is a no-op; the client is owned by the caller
func (b *Bus) Close() error {
	return nil
}

type subscription struct {
	ps   *redis.PubSub
	out  chan []byte
	once sync.Once
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.out)

	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			default:
				log.Printf("[feed] redis subscriber lagging, dropping message on %s", msg.Channel)
			}
		}
	}
}

func (s *subscription) Messages() <-chan []byte {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
