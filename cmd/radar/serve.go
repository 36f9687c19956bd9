package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"radar/internal/api"
	"radar/internal/config"
	"radar/internal/feed"
	"radar/internal/identity"
	"radar/internal/kafka"
	"radar/internal/postgres"
	"radar/internal/redis"
	"radar/internal/service/geocode"
	"radar/internal/service/notify"
	"radar/internal/service/presence"
	"radar/internal/worker"
)

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "migrate the schema before serving")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Init(cfg.DBUrl)
	if err != nil {
		return err
	}
	defer closeDB(db)
	if migrate {
		if err := postgres.Migrate(db); err != nil {
			return err
		}
	}

	bus, closeBus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer closeBus()

	sink, closeSink := openNoticeSink(cfg)
	defer closeSink()

	var geocoder notify.Geocoder
	if client := geocode.NewClient(cfg.GoogleMapsKey); client != nil {
		geocoder = client
		if rb, ok := bus.(*redis.Bus); ok {
			geocoder = redis.NewPlaceCache(rb.Client(), client, redis.PlaceTTL)
		}
	} else {
		log.Println("GOOGLE_MAPS_API_KEY not set, notices go out without place names")
	}

	store := postgres.NewPresenceStore(db, bus)
	manager := presence.NewManager(ctx, presence.Deps{
		Store:     store,
		Bus:       bus,
		Announcer: notify.NewAnnouncer(geocoder, sink, config.GeocodeTimeout),
	}, presence.DefaultTimings(), cfg.LiveRoleSet())
	defer manager.CloseAll()

	workers := worker.StartAllWorkers(ctx, store, manager)

	r := gin.Default()
	api.SetupRouter(r, cfg, manager, identity.NewGormProvider(db))

	srv := &http.Server{Addr: cfg.Port, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server listening on %s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Println("Shutdown signal received, closing connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}
	stop()
	workers.Wait()
	return nil
}

// openBus connects the configured change-feed backend
func openBus(cfg config.Config) (feed.Bus, func(), error) {
	switch cfg.FeedBackend {
	case config.FeedBackendKafka:
		bus := kafka.NewBus(cfg.KafkaBroker, cfg.KafkaFeedTopic)
		return bus, func() { closeQuietly("Kafka feed", bus.Close) }, nil
	case config.FeedBackendMemory:
		bus := feed.NewMemoryBus()
		return bus, func() { closeQuietly("memory feed", bus.Close) }, nil
	default:
		client, err := redis.Init(cfg.RedisUrl)
		if err != nil {
			return nil, nil, err
		}
		return redis.NewBus(client), func() { closeQuietly("Redis", client.Close) }, nil
	}
}

// openNoticeSink picks Kafka when the feed runs on Kafka, the log otherwise
func openNoticeSink(cfg config.Config) (notify.Sink, func()) {
	if cfg.FeedBackend != config.FeedBackendKafka {
		return notify.LogSink{}, func() {}
	}
	sink := kafka.NewNoticeSink(cfg.KafkaBroker, cfg.KafkaNoticeTopic)
	return sink, func() { closeQuietly("Kafka notices", sink.Close) }
}

func closeDB(db *gorm.DB) {
	if err := postgres.Close(db); err != nil {
		log.Printf("Error closing PostgreSQL connection: %v", err)
		return
	}
	log.Println("PostgreSQL connection closed")
}

func closeQuietly(name string, close func() error) {
	if err := close(); err != nil {
		log.Printf("Error closing %s: %v", name, err)
	}
}
