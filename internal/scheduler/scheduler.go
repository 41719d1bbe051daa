// Package scheduler runs analysis jobs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler wraps a cron runner. Overlapping runs of the same job are
// skipped rather than queued.
type Scheduler struct {
	cron   *cron.Cron
	log    logrus.FieldLogger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler evaluating 5-field specs in loc.
func New(loc *time.Location, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	if loc == nil {
		loc = time.UTC
	}
	log = log.WithField("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log)), cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started")
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// AddJob registers job under a standard cron spec, e.g. "*/30 9-15 * * 1-5".
func (s *Scheduler) AddJob(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(s.ctx, job) })
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", job.Name(), err)
	}
	s.log.WithFields(logrus.Fields{"schedule": spec, "job": job.Name()}).Info("Job registered")
	return nil
}

// Next returns the next activation time of the first registered job.
func (s *Scheduler) Next() (time.Time, bool) {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}

// RunNow executes a job immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.WithField("job", job.Name()).Info("Running job immediately")
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	log := s.log.WithField("job", job.Name())
	log.Debug("Running job")
	start := time.Now()
	err := job.Run(ctx)
	switch {
	case err == nil:
		log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Debug("Job completed")
	case errors.Is(err, context.Canceled):
		log.Info("Job canceled")
	default:
		log.WithError(err).Error("Job failed")
	}
	return err
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }
func (f FuncJob) Name() string { return f.JobName }
