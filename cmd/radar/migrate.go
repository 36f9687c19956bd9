package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"radar/internal/config"
	"radar/internal/kafka"
	"radar/internal/postgres"
)

func newMigrateCommand() *cobra.Command {
	var partitions int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and, on Kafka, the topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			db, err := postgres.Init(cfg.DBUrl)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := postgres.Migrate(db); err != nil {
				return err
			}
			log.Println("Database schema is up to date")

			if cfg.FeedBackend != config.FeedBackendKafka {
				return nil
			}
			err = kafka.CreateTopics(cfg.KafkaBroker, []kafka.TopicConfig{
				{Topic: cfg.KafkaFeedTopic, NumPartitions: partitions, ReplicationFactor: 1},
				{Topic: cfg.KafkaNoticeTopic, NumPartitions: 1, ReplicationFactor: 1},
			})
			if err != nil {
				return fmt.Errorf("failed to create topics: %w", err)
			}
			log.Printf("Kafka topics %s and %s ready", cfg.KafkaFeedTopic, cfg.KafkaNoticeTopic)
			return nil
		},
	}
	cmd.Flags().IntVar(&partitions, "feed-partitions", 3, "partitions of the feed topic")
	return cmd
}
