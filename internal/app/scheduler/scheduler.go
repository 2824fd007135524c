// Package scheduler drives pipelines with independent periodic timers: one
// discovery loop and one fill loop per partition and pipeline, plus durable
// store housekeeping per partition.
package scheduler

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/yieldcache/internal/app/orchestrator"
)

// Pipeline is the pass surface the scheduler drives.
type Pipeline interface {
	Restore(ctx context.Context) (string, error)
	Discover(ctx context.Context) (orchestrator.DiscoverReport, error)
	Fill(ctx context.Context) (orchestrator.FillReport, error)
}

// Maintainer runs storage housekeeping.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Job schedules one pipeline in one partition.
type Job struct {
	Name          string
	Pipeline      Pipeline
	DiscoverEvery time.Duration
	FillEvery     time.Duration
	// RetryAfter reschedules a discovery pass that was skipped on a held lock
	// sooner than DiscoverEvery; usually the lock release delay.
	RetryAfter time.Duration
}

// Housekeeping schedules one store's maintenance.
type Housekeeping struct {
	Name  string
	Store Maintainer
	Every time.Duration
}

// Scheduler owns the timers. It holds no pass state of its own.
type Scheduler struct {
	jobs         []Job
	housekeeping []Housekeeping
	logger       *log.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger injects a logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHousekeeping adds store maintenance loops.
func WithHousekeeping(items ...Housekeeping) Option {
	return func(s *Scheduler) {
		s.housekeeping = append(s.housekeeping, items...)
	}
}

// New constructs a scheduler for jobs.
func New(jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:         append([]Job(nil), jobs...),
		housekeeping: nil,
		logger:       log.New(os.Stdout, "scheduler ", log.LstdFlags|log.Lmicroseconds),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run restores every pipeline, then runs all loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for _, job := range s.jobs {
		source, err := job.Pipeline.Restore(ctx)
		if err != nil {
			s.logger.Printf("restore job=%s: %v", job.Name, err)
			continue
		}
		s.logger.Printf("restored job=%s source=%s", job.Name, source)
	}

	var wg conc.WaitGroup
	for _, job := range s.jobs {
		job := job
		if job.DiscoverEvery > 0 {
			wg.Go(func() {
				s.discoverLoop(ctx, job)
			})
		}
		if job.FillEvery > 0 {
			wg.Go(func() {
				every(ctx, job.FillEvery, func() {
					report, err := job.Pipeline.Fill(ctx)
					if err != nil {
						s.logger.Printf("fill job=%s pass=%s: %v", job.Name, report.PassID, err)
					}
				})
			})
		}
	}
	for _, hk := range s.housekeeping {
		hk := hk
		if hk.Every <= 0 || hk.Store == nil {
			continue
		}
		wg.Go(func() {
			every(ctx, hk.Every, func() {
				if err := hk.Store.Maintain(ctx); err != nil {
					s.logger.Printf("maintain store=%s: %v", hk.Name, err)
				}
			})
		})
	}
	wg.Wait()
}

// discoverLoop runs discovery immediately and then every DiscoverEvery. A
// skipped pass is retried after RetryAfter when that is shorter.
func (s *Scheduler) discoverLoop(ctx context.Context, job Job) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		wait := job.DiscoverEvery
		report, err := job.Pipeline.Discover(ctx)
		switch {
		case err != nil:
			s.logger.Printf("discover job=%s pass=%s: %v", job.Name, report.PassID, err)
		case report.Skipped && job.RetryAfter > 0 && job.RetryAfter < wait:
			wait = job.RetryAfter
		}
		timer.Reset(wait)
	}
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if ctx.Err() != nil {
		return
	}
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
