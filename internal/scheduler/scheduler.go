// Package scheduler runs document refreshes on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wesm/leasevault/internal/config"
)

// AllTenants is the target that refreshes every tenant's documents.
const AllTenants = ""

// ErrStopped is returned by Trigger after Stop.
var ErrStopped = errors.New("scheduler is stopped")

// RefreshFunc performs one refresh. target is AllTenants or a tenant email.
type RefreshFunc func(ctx context.Context, target string) error

// JobStatus reports the state of one scheduled refresh. Target is the value
// the job was added with, so AllTenants for the all-tenants job, and can be
// passed back to Trigger.
type JobStatus struct {
	Target    string    `json:"target"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	entry    cron.EntryID
	schedule string
	running  bool
	lastRun  time.Time // last successful run
	lastErr  error
}

// Scheduler manages cron-driven refresh jobs, at most one run per target at
// a time.
type Scheduler struct {
	cron    *cron.Cron
	refresh RefreshFunc
	logger  *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*job

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running refreshes
	started bool
	stopped bool
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// New creates a Scheduler that calls refresh for each due job.
func New(refresh RefreshFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(newParser())),
		refresh: refresh,
		logger:  slog.Default(),
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

func targetName(target string) string {
	if target == AllTenants {
		return "all tenants"
	}
	return target
}

// AddJob schedules a refresh of target, replacing any existing schedule for
// it. Returns an error if the cron expression is invalid.
func (s *Scheduler) AddJob(target, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.jobs[target]
	entryID, err := s.cron.AddFunc(cronExpr, func() {
		if s.begin(target) == nil {
			s.run(target)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	j := &job{entry: entryID, schedule: cronExpr}
	if exists {
		s.cron.Remove(prev.entry)
		j.running, j.lastRun, j.lastErr = prev.running, prev.lastRun, prev.lastErr
	}
	s.jobs[target] = j
	s.logger.Info("scheduled refresh",
		"target", targetName(target),
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// AddJobsFromConfig schedules every refresh enabled in cfg. Returns the
// number of jobs scheduled and any errors encountered.
func (s *Scheduler) AddJobsFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	scheduled := 0

	refreshes := cfg.ScheduledRefreshes()
	targets := make([]string, 0, len(refreshes))
	for target := range refreshes {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		if err := s.AddJob(target, refreshes[target]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", targetName(target), err))
			continue
		}
		scheduled++
	}
	return scheduled, errs
}

// RemoveJob removes the schedule for target.
func (s *Scheduler) RemoveJob(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, exists := s.jobs[target]; exists {
		s.cron.Remove(j.entry)
		delete(s.jobs, target)
		s.logger.Info("removed schedule", "target", targetName(target))
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", n)
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops the scheduler and cancels running refreshes. The returned
// context is done once all of them have returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// begin marks target as running. Returns an error when it cannot start; on
// success the caller must call run.
func (s *Scheduler) begin(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	j, exists := s.jobs[target]
	if !exists {
		return fmt.Errorf("refresh of %s is not scheduled", targetName(target))
	}
	if j.running {
		return fmt.Errorf("refresh already running for %s", targetName(target))
	}
	j.running = true
	s.wg.Add(1)
	return nil
}

func (s *Scheduler) run(target string) {
	defer s.wg.Done()

	s.logger.Info("starting scheduled refresh", "target", targetName(target))
	start := time.Now()

	err := s.refresh(s.ctx, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	j, exists := s.jobs[target]
	if !exists {
		return
	}
	j.running = false
	j.lastErr = err
	if err != nil {
		s.logger.Error("scheduled refresh failed",
			"target", targetName(target),
			"duration", time.Since(start),
			"error", err)
		return
	}
	j.lastRun = time.Now()
	s.logger.Info("scheduled refresh completed",
		"target", targetName(target),
		"duration", time.Since(start))
}

// IsScheduled returns true if target has a schedule.
func (s *Scheduler) IsScheduled(target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[target]
	return exists
}

// Trigger runs a scheduled job now, outside of its schedule. Returns an
// error if it is already running, not scheduled, or the scheduler has been
// stopped.
func (s *Scheduler) Trigger(target string) error {
	if err := s.begin(target); err != nil {
		return err
	}
	go s.run(target)
	return nil
}

// Status returns the state of every job ordered by target.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for target, j := range s.jobs {
		status := JobStatus{
			Target:   target,
			Running:  j.running,
			LastRun:  j.lastRun,
			NextRun:  s.cron.Entry(j.entry).Next,
			Schedule: j.schedule,
		}
		if j.lastErr != nil {
			status.LastError = j.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Target < statuses[k].Target })
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
