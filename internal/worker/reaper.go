package worker

import (
	"context"
	"log"
	"time"

	"radar/internal/config"
)

// Reaper closes sessions nobody used for a while
type Reaper interface {
	CloseIdle(maxIdle time.Duration) int
}

// StartReaperWorker closes idle sessions on every tick until ctx ends
func StartReaperWorker(ctx context.Context, reaper Reaper) {
	runEvery(ctx, config.ReaperWorkerInterval, "Reaper", func() {
		if n := reaper.CloseIdle(config.SessionIdleTimeout); n > 0 {
			log.Printf("Reaper worker: closed %d idle sessions", n)
		}
	})
}
