// Package janitor periodically deletes closed one-time codes and dead
// sessions.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/metrics"
)

// Job removes stale rows and reports how many were deleted.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

type Janitor struct {
	jobs    []Job
	timeout time.Duration
	logger  *zap.SugaredLogger
	cron    *cron.Cron
}

func New(logger *zap.SugaredLogger, jobs ...Job) *Janitor {
	return &Janitor{jobs: jobs, timeout: time.Minute, logger: logger}
}

// RunOnce executes every job in order. A failing job does not stop the
// others; the first error is returned.
func (j *Janitor) RunOnce(ctx context.Context) error {
	var first error
	for _, job := range j.jobs {
		jctx, cancel := context.WithTimeout(ctx, j.timeout)
		n, err := job.Run(jctx)
		cancel()
		if err != nil {
			j.logger.Errorw("janitor job failed", "job", job.Name, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		metrics.JanitorDeleted.WithLabelValues(job.Name).Add(float64(n))
		j.logger.Infow("janitor job done", "job", job.Name, "deleted", n)
	}
	return first
}

// Start schedules RunOnce with a cron spec such as "@every 1h".
func (j *Janitor) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _ = j.RunOnce(context.Background()) }); err != nil {
		return err
	}
	j.cron = c
	c.Start()
	j.logger.Infow("janitor scheduled", "schedule", spec, "jobs", len(j.jobs))
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// OTPCleaner and SessionPurger are the two stores the standard jobs sweep.
type OTPCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StandardJobs returns the cleanup jobs both binaries schedule.
func StandardJobs(otps OTPCleaner, sessions SessionPurger) []Job {
	return []Job{
		{Name: "otp_cleanup", Run: otps.CleanExpired},
		{Name: "session_purge", Run: sessions.PurgeExpired},
	}
}
