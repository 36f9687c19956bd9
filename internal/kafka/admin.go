package kafka

import (
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// TopicConfig describes a topic the service writes to
type TopicConfig struct {
	Topic             string
	NumPartitions     int
	ReplicationFactor int
}

// CreateTopics ensures each topic exists. Existing topics are left alone.
func CreateTopics(broker string, configs []TopicConfig) error {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find controller: %w", err)
	}
	ctrlConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to connect to controller: %w", err)
	}
	defer ctrlConn.Close()

	topics := make([]kafka.TopicConfig, 0, len(configs))
	for _, cfg := range configs {
		topics = append(topics, kafka.TopicConfig{
			Topic:             cfg.Topic,
			NumPartitions:     cfg.NumPartitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}
	return ctrlConn.CreateTopics(topics...)
}
