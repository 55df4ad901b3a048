package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"
)

// Job is one scheduled forecast run.
type Job func(ctx context.Context) error

// Status is the outcome of the most recent run.
type Status struct {
	Runs     int       `json:"runs"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_error,omitempty"`
	NextRun  time.Time `json:"next_run"`
	Running  bool      `json:"running"`
	Schedule string    `json:"schedule"`
}

// Scheduler reruns a job on a five-field cron schedule. A run that is
// still in progress when the next tick fires causes that tick to be
// skipped.
type Scheduler struct {
	parser   cron.Parser
	spec     string
	location *time.Location
	job      Job
	timeout  time.Duration

	cron    *cron.Cron
	entryID cron.EntryID

	mu     sync.Mutex
	status Status
}

// New validates spec and timezone and prepares the scheduler.
func New(spec, timezone string, timeout time.Duration, job Job) (*Scheduler, error) {
	s := &Scheduler{
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		spec:    spec,
		job:     job,
		timeout: timeout,
	}
	loc, err := s.getLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %v", timezone, err)
	}
	s.location = loc
	if _, err := s.parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %s: %v", spec, err)
	}

	logger := klogAdapter{}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.status.Schedule = spec
	return s, nil
}

func (s *Scheduler) getLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(timezone)
}

// NextRun returns the first activation strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	schedule, err := s.parser.Parse(s.spec)
	if err != nil {
		klog.Warningf("Invalid cron schedule %s: %v", s.spec, err)
		return time.Time{}
	}
	return schedule.Next(now.In(s.location))
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for an in-flight job. With runNow the job also runs once immediately.
func (s *Scheduler) Run(ctx context.Context, runNow bool) error {
	id, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	s.entryID = id

	s.cron.Start()
	klog.InfoS("Scheduler started", "schedule", s.spec, "location", s.location.String(),
		"next", s.NextRun(time.Now()).Format(time.RFC3339))

	if runNow {
		s.runOnce(ctx)
	}

	<-ctx.Done()
	klog.InfoS("Scheduler stopping, waiting for running job")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) runOnce(parent context.Context) {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		klog.V(2).InfoS("Previous run still in progress, skipping")
		return
	}
	s.status.Running = true
	s.mu.Unlock()

	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.job(ctx)

	s.mu.Lock()
	s.status.Running = false
	s.status.Runs++
	s.status.LastRun = start
	s.status.LastErr = ""
	if err != nil {
		s.status.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		klog.ErrorS(err, "Scheduled forecast failed", "duration", time.Since(start).String())
		return
	}
	klog.InfoS("Scheduled forecast finished", "duration", time.Since(start).String())
}

// Status returns a snapshot of the run state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.NextRun = s.NextRun(time.Now())
	return st
}

// klogAdapter routes cron's internal logging through klog.
type klogAdapter struct{}

func (klogAdapter) Info(msg string, keysAndValues ...interface{}) {
	klog.V(4).InfoS(msg, keysAndValues...)
}

func (klogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	klog.ErrorS(err, msg, keysAndValues...)
}
