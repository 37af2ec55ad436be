// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrJobNotFound is returned by RunNow for an unregistered job name
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned by RunNow while the job is already executing
	ErrJobRunning = errors.New("job already running")
	// ErrDuplicateJob is returned when a job name is registered twice
	ErrDuplicateJob = errors.New("job already registered")
)

// Job represents a scheduled job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// JobStatus is a snapshot of a registered job
type JobStatus struct {
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

type entry struct {
	job      Job
	schedule string
	id       cron.EntryID

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastDur time.Duration
	lastErr error
}

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]*entry

	// triggered tracks background runs started by Trigger
	triggered sync.WaitGroup

	log zerolog.Logger
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return or for ctx to expire
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	finished := make(chan struct{})
	go func() {
		<-done.Done()
		s.triggered.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.log.Info().Msg("Scheduler stopped")
	case <-ctx.Done():
		s.log.Warn().Msg("Scheduler stop timed out with jobs still running")
	}
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "0 30 22 * * 1-5"    - 22:30 on weekdays
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("%s: %w", job.Name(), ErrDuplicateJob)
	}

	e := &entry{job: job, schedule: schedule}
	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.execute(s.ctx, e); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	e.id = id
	s.jobs[job.Name()] = e

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a registered job immediately (outside schedule) and waits for it
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrJobNotFound)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.execute(ctx, e)
}

// Trigger starts a registered job in the background under the scheduler's
// context, so Stop cancels it like a cron run
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrJobNotFound)
	}

	s.triggered.Add(1)
	go func() {
		defer s.triggered.Done()
		if err := s.RunNow(s.ctx, name); err != nil {
			if errors.Is(err, ErrJobRunning) {
				s.log.Info().Str("job", name).Msg("Manual trigger ignored, job already running")
				return
			}
			s.log.Error().Err(err).Str("job", name).Msg("Manually triggered job failed")
		}
	}()
	return nil
}

// Jobs returns the status of every registered job sorted by name
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		status := JobStatus{Name: name, Schedule: e.schedule}
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			status.NextRun = &next
		}

		e.mu.Lock()
		status.Running = e.running
		if !e.lastRun.IsZero() {
			last := e.lastRun
			status.LastRun = &last
			status.LastDuration = e.lastDur.String()
		}
		if e.lastErr != nil {
			status.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()

		out = append(out, status)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// execute runs the job unless it is already running and records the outcome
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		s.log.Warn().Str("job", e.job.Name()).Msg("Skipping run, job still running")
		return ErrJobRunning
	}
	e.running = true
	e.mu.Unlock()

	start := time.Now()
	s.log.Debug().Str("job", e.job.Name()).Msg("Running job")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", e.job.Name(), p)
		}

		e.mu.Lock()
		e.running = false
		e.lastRun = start
		e.lastDur = time.Since(start)
		e.lastErr = err
		e.mu.Unlock()

		if err == nil {
			s.log.Debug().
				Str("job", e.job.Name()).
				Dur("duration_ms", time.Since(start)).
				Msg("Job completed")
		}
	}()

	return e.job.Run(ctx)
}
