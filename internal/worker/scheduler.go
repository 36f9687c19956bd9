package worker

import (
	"context"
	"log"
	"sync"
)

// Scheduler runs the background workers until its context ends
type Scheduler struct {
	wg sync.WaitGroup
}

// StartAllWorkers initializes and starts all background workers
func StartAllWorkers(ctx context.Context, purger Purger, reaper Reaper) *Scheduler {
	log.Println("Starting all workers...")

	s := &Scheduler{}
	s.start(func() { StartSweepWorker(ctx, purger) })
	s.start(func() { StartReaperWorker(ctx, reaper) })

	log.Println("All workers started")
	return s
}

func (s *Scheduler) start(run func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run()
	}()
}

// Wait blocks until every worker returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
