package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/source"
)

// RunState represents the current state of a scheduled sync.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunError
)

// Status holds the outcome of the most recent scheduled run.
type Status struct {
	State      RunState
	LastRun    time.Time
	LastResult Result
	Error      error
	Runs       int
}

// RunFunc performs one sync.
type RunFunc func(ctx context.Context) (Result, error)

// Scheduler runs a sync immediately and then on a cron schedule until
// its context ends. A run that is still going when the next one is due
// causes that tick to be skipped. Authorization failures stop the
// scheduler, since retrying cannot fix them.
type Scheduler struct {
	schedule cron.Schedule
	run      RunFunc
	logger   *zap.Logger

	mu     gosync.Mutex
	status Status
}

// NewScheduler parses spec (standard five-field cron or a descriptor
// such as "@hourly" or "@every 15m") and returns a Scheduler for run.
func NewScheduler(spec string, run RunFunc, logger *zap.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{schedule: schedule, run: run, logger: logger}, nil
}

// Next returns the first activation time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Status returns a snapshot of the scheduler's status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run blocks until ctx is done or a run fails authorization. It returns
// nil on cancellation and the authorization error otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	job := cron.FuncJob(func() { s.runOnce(ctx, cancel) })

	// Do an initial run immediately
	job.Run()
	if ctx.Err() != nil {
		return s.stopErr(ctx)
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger.Sugar()}),
		cron.SkipIfStillRunning(cronLogger{s.logger.Sugar()}),
	))
	c.Schedule(s.schedule, job)
	c.Start()
	s.logger.Info("watching", zap.Time("next_run", s.schedule.Next(time.Now())))

	<-ctx.Done()
	<-c.Stop().Done()

	return s.stopErr(ctx)
}

func (s *Scheduler) stopErr(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil && source.IsAuthError(cause) {
		return cause
	}
	return nil
}

// runOnce performs a single run and records its outcome.
func (s *Scheduler) runOnce(ctx context.Context, stop context.CancelCauseFunc) {
	s.setState(RunRunning, nil)

	res, err := s.run(ctx)

	s.mu.Lock()
	s.status.Runs++
	s.status.LastRun = time.Now()
	s.status.LastResult = res
	s.status.Error = err
	if err != nil {
		s.status.State = RunError
	} else {
		s.status.State = RunIdle
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Info("scheduled sync finished",
			zap.Int("written", res.Written),
			zap.Int("skipped", res.Skipped),
		)
	case source.IsAuthError(err):
		s.logger.Error("authentication failed, stopping watch", zap.Error(err))
		stop(err)
	case ctx.Err() != nil:
	default:
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
}

func (s *Scheduler) setState(state RunState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Error = err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
