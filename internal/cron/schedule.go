package cron

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is one unit of periodic maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job   Job
	every time.Duration
	next  time.Time
}

// Schedule tracks when each job is next due. A job added to a schedule is due
// on the first tick and then once per its own period.
type Schedule struct {
	mu      sync.Mutex
	entries []*entry
}

func NewSchedule() *Schedule {
	return &Schedule{}
}

// Add registers job to run every period. Names must be unique since they key
// metrics and logs.
func (s *Schedule) Add(job Job, every time.Duration) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	if every <= 0 {
		return fmt.Errorf("job %s: period must be positive", job.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name() == job.Name() {
			return fmt.Errorf("job %s already scheduled", job.Name())
		}
	}
	s.entries = append(s.entries, &entry{job: job, every: every})
	return nil
}

// Due returns the jobs whose time has come, in the order they were added, and
// books their next run relative to now.
func (s *Schedule) Due(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, e.job)
		e.next = now.Add(e.every)
	}
	return due
}

// Len is the number of scheduled jobs.
func (s *Schedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
