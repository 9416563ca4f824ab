// Package schedule runs recurring jobs on daily wall-clock times or fixed
// intervals. Each job runs on its own goroutine with at most one instance
// in flight; a fire that lands while the previous run is still going is
// skipped rather than queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a named unit of scheduled work. The runID identifies one firing
// in logs and persisted run records.
type Job struct {
	Name string
	Run  func(ctx context.Context, runID string) error
	// Timeout bounds one firing when set. The run's context is cancelled
	// once it elapses, and the firing is reported as timed out.
	Timeout time.Duration
}

// Trigger decides when a job fires. Every takes precedence when set;
// otherwise the job fires daily at Hour:Minute in Location.
type Trigger struct {
	Every    time.Duration
	Hour     int
	Minute   int
	Location *time.Location
}

// DailyAt builds a trigger firing once a day at the given wall time.
func DailyAt(hour, minute int, loc *time.Location) Trigger {
	return Trigger{Hour: hour, Minute: minute, Location: loc}
}

// Every builds a trigger firing at a fixed interval.
func Every(d time.Duration) Trigger {
	return Trigger{Every: d}
}

// Next returns the first fire time strictly after now.
func (t Trigger) Next(now time.Time) time.Time {
	if t.Every > 0 {
		return now.Add(t.Every)
	}

	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (t Trigger) String() string {
	if t.Every > 0 {
		return "every " + t.Every.String()
	}
	return fmt.Sprintf("daily at %02d:%02d", t.Hour, t.Minute)
}

type scheduledJob struct {
	job     Job
	trigger Trigger
}

// Scheduler owns a set of registered jobs and their timers.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make(map[string]*scheduledJob),
	}
}

// Register adds a job. Registering a name twice replaces the earlier
// entry. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job, trigger Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		s.logger.Debug("replacing scheduled job", "job", job.Name)
	}
	s.jobs[job.Name] = &scheduledJob{job: job, trigger: trigger}
}

// NextRun reports when a job would next fire.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return j.trigger.Next(time.Now()), true
}

// Start launches one goroutine per registered job and blocks until the
// context is cancelled. In-flight runs observe the same context and are
// expected to wind down on their own; call Stop to wait for them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", count)
	<-ctx.Done()
	return nil
}

// Stop waits for in-flight job runs to finish.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// runJob sleeps until the job's next fire time, runs it inline, and
// repeats. Running inline keeps the instance count at one: a fire that
// would overlap a long run simply happens after it instead.
func (s *Scheduler) runJob(ctx context.Context, j *scheduledJob) {
	defer s.wg.Done()

	s.logger.Info("job scheduled",
		"job", j.job.Name,
		"trigger", j.trigger.String(),
		"next_run", j.trigger.Next(time.Now()).Format(time.RFC3339),
	)

	for {
		next := j.trigger.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, j.job)
	}
}

// fire executes one run of a job.
func (s *Scheduler) fire(ctx context.Context, job Job) {
	runID := fmt.Sprintf("%s_%s", job.Name, time.Now().Format("20060102_150405"))
	start := time.Now()
	s.logger.Info("job started", "job", job.Name, "run_id", runID)

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	if err := job.Run(ctx, runID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("job timed out",
				"job", job.Name,
				"run_id", runID,
				"timeout", job.Timeout.String(),
			)
			return
		}
		s.logger.Error("job failed",
			"job", job.Name,
			"run_id", runID,
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"error", err,
		)
		return
	}

	s.logger.Info("job finished",
		"job", job.Name,
		"run_id", runID,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
}
