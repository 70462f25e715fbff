// Package scheduler re-runs extraction jobs on a cron schedule so new
// yearly releases dropped into the input directories are picked up
// without a manual run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/edukpi/pkg/logger"
)

// Options tune retries
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions retries a failed run twice, one minute apart
var DefaultOptions = Options{MaxRetries: 2, RetryDelay: time.Minute}

// Scheduler runs registered jobs on their cron schedules.
// A job never overlaps with itself: a tick arriving while it runs is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	opts    Options
	mu      sync.RWMutex
	jobs    map[string]Job
	history map[string]*History
	running map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler
func New(opts Options, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		logger:  log.WithField("module", "scheduler"),
		opts:    opts,
		jobs:    make(map[string]Job),
		history: make(map[string]*History),
		running: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers a job on its schedule
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	if _, err := s.cron.AddFunc(job.Schedule(), func() { s.trigger(job) }); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}

	s.jobs[name] = job
	s.history[name] = &History{}

	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")
	return nil
}

// Start starts the cron loop
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunNow executes a job synchronously, outside of its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return Result{}, fmt.Errorf("job %s not found", name)
	}

	if !s.acquire(name) {
		return Result{}, fmt.Errorf("job %s is already running", name)
	}
	defer s.release(name)

	return s.execute(ctx, job), nil
}

// History returns a copy of a job's results
func (s *Scheduler) History(name string) (History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.history[name]
	if !exists {
		return History{}, fmt.Errorf("job %s not found", name)
	}
	return History{Results: append([]Result(nil), h.Results...)}, nil
}

// trigger is the cron callback
func (s *Scheduler) trigger(job Job) {
	name := job.Name()
	if !s.acquire(name) {
		s.logger.WithField("job", name).Warn("Previous run still in progress, tick skipped")
		return
	}
	defer s.release(name)

	s.execute(s.ctx, job)
}

func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}

// execute runs a job with retries and records the result
func (s *Scheduler) execute(ctx context.Context, job Job) Result {
	name := job.Name()
	log := s.logger.WithField("job", name)
	result := Result{Job: name, StartTime: time.Now()}

	log.Info("Job started")

	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		lastErr = job.Run(ctx)
		if lastErr == nil {
			result.Success = true
			break
		}

		log.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("Job execution failed")

		if attempt == s.opts.MaxRetries || !sleep(ctx, s.opts.RetryDelay) {
			break
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if !result.Success && lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.mu.Lock()
	if h, ok := s.history[name]; ok {
		h.Add(result)
	}
	s.mu.Unlock()

	fields := map[string]interface{}{"duration": result.Duration, "attempts": result.Attempts}
	if result.Success {
		log.WithFields(fields).Info("Job completed successfully")
	} else {
		log.WithFields(fields).WithError(lastErr).Error("Job failed after all retries")
	}
	return result
}

// sleep waits d or until ctx is done; false means ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
