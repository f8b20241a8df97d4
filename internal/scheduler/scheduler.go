// Package scheduler runs probe and digest cycles on fixed intervals for
// hosts without cron.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ameistad/shipyard/internal/logging"
)

// Job is one periodic cycle.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs []Job
}

func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start runs every job once immediately and then on each tick until ctx is
// done. Each tick is bounded by the job's interval so a stuck cycle cannot
// overlap the next one. Errors are logged and the job keeps its schedule.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.tick(ctx, job)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	logger := logging.FromContext(ctx)
	timeoutCtx, cancel := context.WithTimeout(ctx, job.Interval)
	defer cancel()

	start := time.Now()
	if err := job.Run(timeoutCtx); err != nil {
		logger.Error("job failed", "job", job.Name, "error", err)
		return
	}
	logger.Debug("job finished", "job", job.Name, "duration", time.Since(start))
}
