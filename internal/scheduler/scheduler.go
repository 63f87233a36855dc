// Package scheduler runs periodic background jobs, such as polling the
// selector version endpoint.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobSelectorRefresh is the name of the selector polling job.
const JobSelectorRefresh = "selector-refresh"

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Refresher is the part of the selector registry the refresh job drives.
type Refresher interface {
	RefreshIfChanged(ctx context.Context) error
}

// Scheduler manages periodic tasks
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *logrus.Entry

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	base context.Context
}

// New creates a new scheduler in the given timezone ("" for local time).
// Each job run is bounded by timeout.
func New(timezone string, timeout time.Duration) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	log := logrus.WithField("component", "scheduler")
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))),
	)

	return &Scheduler{
		cron:    c,
		timeout: timeout,
		log:     log,
		jobs:    make(map[string]cron.EntryID),
		base:    context.Background(),
	}, nil
}

// AddJob adds a job with a cron schedule
// schedule format: "*/30 * * * *" or "@every 30m"
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(name, job); err != nil {
			s.log.WithError(err).WithField("job", name).Warn("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = entryID
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"job": name, "schedule": schedule}).Info("Added job")
	return nil
}

// AddSelectorRefreshJob polls for a newer selector table on schedule.
func (s *Scheduler) AddSelectorRefreshJob(schedule string, r Refresher) error {
	return s.AddJob(JobSelectorRefresh, schedule, r.RefreshIfChanged)
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.log.WithField("job", name).Info("Removed job")
	}
}

// Run starts the scheduler and blocks until ctx ends, then waits for running
// jobs to finish. Jobs started by Run see ctx as their parent.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.log.Info("Starting scheduler")
	s.cron.Start()
	<-ctx.Done()

	s.log.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// RunNow immediately executes a job under the scheduler's timeout.
func (s *Scheduler) RunNow(name string, job Job) error {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	start := time.Now()
	s.log.WithField("job", name).Debug("Starting job")
	if err := job(ctx); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"job": name, "took": time.Since(start)}).Debug("Job completed")
	return nil
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(entries))
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}
	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}
