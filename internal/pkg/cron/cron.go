package cron

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is a named background task run on a fixed interval.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	Fn          func(ctx context.Context) error
}

type jobState struct {
	Job
	mu        sync.Mutex
	running   bool
	lastErr   string
	lastRunAt *time.Time
	nextRunAt time.Time
}

// Status is a snapshot of one job for listing.
type Status struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Running     bool       `json:"running"`
	LastError   string     `json:"last_error,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   time.Time  `json:"next_run_at"`
}

// Scheduler runs registered jobs on their intervals. Register everything
// before Start; jobs stop when the start context is cancelled.
type Scheduler struct {
	mu   sync.RWMutex
	jobs map[string]*jobState
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*jobState)}
}

func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &jobState{
		Job:       job,
		nextRunAt: time.Now().Add(job.Interval),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		go s.loop(ctx, js)
	}
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	for {
		js.mu.Lock()
		wait := time.Until(js.nextRunAt)
		js.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.execute(ctx, js)
			js.mu.Lock()
			js.nextRunAt = time.Now().Add(js.Interval)
			js.mu.Unlock()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) {
	js.mu.Lock()
	if js.running {
		js.mu.Unlock()
		return
	}
	js.running = true
	js.mu.Unlock()

	now := time.Now()
	err := js.Fn(ctx)

	js.mu.Lock()
	js.running = false
	js.lastRunAt = &now
	js.lastErr = ""
	if err != nil {
		js.lastErr = err.Error()
	}
	js.mu.Unlock()
}

// Run triggers a job by name immediately, off-schedule and non-blocking.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	go s.execute(ctx, js)
	return nil
}

// List snapshots every registered job.
func (s *Scheduler) List() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Status, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		items = append(items, Status{
			Name:        js.Name,
			Description: js.Description,
			Running:     js.running,
			LastError:   js.lastErr,
			LastRunAt:   js.lastRunAt,
			NextRunAt:   js.nextRunAt,
		})
		js.mu.Unlock()
	}
	return items
}
