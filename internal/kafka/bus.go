package kafka

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"radar/internal/feed"
)

// Bus is a feed.Bus over a Kafka topic. Each subscriber reads every
// partition from the latest offset, so all sessions see every event.
type Bus struct {
	broker string
	topic  string
	writer *kafka.Writer
}

func NewBus(broker, topic string) *Bus {
	return &Bus{
		broker: broker,
		topic:  topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (b *Bus) Publish(ctx context.Context, ev feed.Event) error {
	raw, err := feed.Encode(ev)
	if err != nil {
		return err
	}
	// Keyed by signal id so events for one signal stay ordered
	return b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.ID), Value: raw})
}

func (b *Bus) Subscribe(ctx context.Context, table string) (feed.Subscription, error) {
	if table != feed.SignalTable {
		return nil, fmt.Errorf("kafka bus only carries %s", feed.SignalTable)
	}

	conn, err := kafka.DialLeader(ctx, "tcp", b.broker, b.topic, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	partitions, err := conn.ReadPartitions()
	conn.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to get partitions: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{out: make(chan []byte, 64), cancel: cancel}

	for _, p := range partitions {
		if p.Topic != b.topic {
			continue
		}
		sub.wg.Add(1)
		go sub.readPartition(subCtx, b.broker, b.topic, p.ID)
	}

	go func() {
		sub.wg.Wait()
		close(sub.out)
	}()
	return sub, nil
}

func (b *Bus) Close() error {
	return b.writer.Close()
}

type subscription struct {
	out    chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *subscription) readPartition(ctx context.Context, broker, topic string, partition int) {
	defer s.wg.Done()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		Partition:   partition,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer r.Close()

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[feed] kafka partition %d read error: %v", partition, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case s.out <- m.Value:
		case <-ctx.Done():
			return
		default:
			log.Printf("[feed] kafka subscriber lagging, dropping offset %d", m.Offset)
		}
	}
}

func (s *subscription) Messages() <-chan []byte {
	return s.out
}

func (s *subscription) Close() error {
	s.cancel()
	return nil
}
