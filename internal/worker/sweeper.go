package worker

import (
	"context"
	"log"
	"time"

	"radar/internal/config"
)

// Purger deletes expired signals
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// SweepOnce removes expired signals so clients see them go through the
// feed instead of waiting for their own expiry check
func SweepOnce(ctx context.Context, purger Purger) {
	n, err := purger.PurgeExpired(ctx)
	if err != nil {
		log.Printf("Sweep worker: purge failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Sweep worker: removed %d expired signals", n)
	}
}

// StartSweepWorker purges expired signals on every tick until ctx ends
func StartSweepWorker(ctx context.Context, purger Purger) {
	runEvery(ctx, config.SweepWorkerInterval, "Sweep", func() { SweepOnce(ctx, purger) })
}

func runEvery(ctx context.Context, interval time.Duration, name string, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("%s worker started with interval: %v", name, interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("%s worker stopped", name)
			return
		case <-ticker.C:
			fn()
		}
	}
}
