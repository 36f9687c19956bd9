package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"radar/internal/service/notify"
)

// NoticeSink forwards broadcast notices to a Kafka topic for the
// notification channel to pick up
type NoticeSink struct {
	writer *kafka.Writer
}

func NewNoticeSink(broker, topic string) *NoticeSink {
	return &NoticeSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *NoticeSink) Send(ctx context.Context, n notify.Notice) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.OwnerID), Value: b})
}

func (s *NoticeSink) Close() error {
	return s.writer.Close()
}
