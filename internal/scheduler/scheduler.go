// Package scheduler runs the lifecycle and archive jobs on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Job is a named task run every Interval. A zero Interval disables it.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Options struct {
	Logger *slog.Logger
	// Report receives every failed or panicking run. Defaults to capturing
	// the error with Sentry.
	Report func(job string, err error)
}

type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
	report func(job string, err error)
}

func New(opts Options, jobs ...Job) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Report == nil {
		opts.Report = captureWithSentry
	}
	return &Scheduler{jobs: jobs, logger: opts.Logger.With("component", "scheduler"), report: opts.Report}
}

func captureWithSentry(job string, err error) {
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("job", job)
	})
	hub.CaptureException(err)
}

// Run starts one loop per enabled job, running each job once immediately, and
// blocks until ctx is cancelled and every loop has returned. Runs of the same
// job never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info("job disabled", "job", job.Name)
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval.String())
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("job %s panicked: %v", job.Name, r)
			s.logger.Error("job panicked", "job", job.Name, "error", err)
			s.report(job.Name, err)
		}
	}()

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("job cancelled", "job", job.Name)
			return
		}
		s.logger.Error("job failed", "job", job.Name, "error", err)
		s.report(job.Name, err)
		return
	}
	s.logger.Info("job completed", "job", job.Name, "duration", time.Since(started).String())
}
