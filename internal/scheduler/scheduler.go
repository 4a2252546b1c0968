// Package scheduler is the execution loop: each tick claims due schedules, runs their
// provider actions on a bounded pool and records every outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/crucial707/resource-scheduler/internal/heartbeat"
	"github.com/crucial707/resource-scheduler/internal/metrics"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/crucial707/resource-scheduler/internal/provider"
	"github.com/crucial707/resource-scheduler/internal/repo"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Store is the part of the schedule store the loop needs.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.Schedule, error)
	RecordOutcome(ctx context.Context, o repo.Outcome) error
	ReleaseClaim(ctx context.Context, id string, claimedUntil time.Time) error
}

// Publisher receives every recorded run.
type Publisher interface {
	PublishRun(ctx context.Context, run models.Run) error
}

// Heartbeat receives a summary of every tick.
type Heartbeat interface {
	RecordTick(ctx context.Context, t heartbeat.Tick) error
}

// Options tune the loop. Zero values fall back to the defaults below.
type Options struct {
	Interval    time.Duration
	Lease       time.Duration
	ExecTimeout time.Duration
	Workers     int
	BatchSize   int
	InstanceID  string

	Now       func() time.Time
	Publisher Publisher
	Heartbeat Heartbeat
}

const recordTimeout = 10 * time.Second

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = 90 * time.Second
	}
	if o.Lease <= o.ExecTimeout+recordTimeout {
		o.Lease = o.ExecTimeout + recordTimeout + time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// TickSummary counts what one pass did.
type TickSummary struct {
	At           time.Time
	Claimed      int
	Succeeded    int
	Failed       int
	Released     int // claimed but not dispatched before shutdown
	RecordErrors int
}

// Scheduler runs ticks against a Store and an Executor.
type Scheduler struct {
	store  Store
	exec   provider.Executor
	opts   Options
	logger *zap.Logger
}

// New returns a Scheduler. Run starts it; Tick drives a single pass.
func New(store Store, exec provider.Executor, opts Options, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		exec:   exec,
		opts:   opts.withDefaults(),
		logger: logger.Named("scheduler"),
	}
}

// Tick claims the schedules due at now, executes them concurrently and records each
// outcome. A claim error skips the tick and is returned; per-schedule failures are not.
// Once ctx is done, claims still waiting for a worker are released unexecuted; calls
// already dispatched keep running until they finish or hit the exec timeout.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickSummary, error) {
	summary := TickSummary{At: now}

	claimed, err := s.store.ClaimDue(ctx, now, s.opts.Lease, s.opts.BatchSize)
	if err != nil {
		metrics.RecordTick("error", 0)
		s.logger.Error("claim failed, skipping tick", zap.Time("now", now), zap.Error(err))
		s.beat(ctx, summary, err)
		return summary, err
	}
	summary.Claimed = len(claimed)
	if len(claimed) == 0 {
		metrics.RecordTick("ok", 0)
		s.beat(ctx, summary, nil)
		return summary, nil
	}

	var succeeded, failed, released, recordErrs atomic.Int64
	p := pool.New().WithMaxGoroutines(s.opts.Workers)
	for _, sched := range claimed {
		p.Go(func() {
			if ctx.Err() != nil {
				s.release(ctx, sched)
				released.Add(1)
				return
			}
			status, err := s.runOne(ctx, sched, now)
			if status == models.RunSuccess {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			if err != nil {
				recordErrs.Add(1)
			}
		})
	}
	p.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	summary.Released = int(released.Load())
	summary.RecordErrors = int(recordErrs.Load())
	metrics.RecordTick("ok", summary.Claimed)
	s.logger.Info("tick complete",
		zap.Int("claimed", summary.Claimed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("released", summary.Released),
		zap.Int("record_errors", summary.RecordErrors))
	s.beat(ctx, summary, nil)
	return summary, nil
}

// runOne executes one claimed occurrence and records it. The returned error is a
// recording failure; execution failures are part of the outcome.
func (s *Scheduler) runOne(ctx context.Context, sched models.Schedule, now time.Time) (models.RunStatus, error) {
	log := s.logger.With(
		zap.String("schedule_id", sched.ID),
		zap.String("workspace_id", sched.WorkspaceID),
		zap.String("provider", string(sched.Provider)),
		zap.String("resource_type", string(sched.ResourceType)),
		zap.String("resource_id", sched.ResourceID),
		zap.String("action", string(sched.Action)),
	)

	scheduledFor := now
	if sched.NextRunAt != nil {
		scheduledFor = *sched.NextRunAt
	}

	started := s.opts.Now()
	var (
		execErr error
		next    *time.Time
	)
	rule, err := sched.Rule()
	if err != nil {
		// A row that no longer parses is parked with no next run rather than reclaimed forever.
		execErr = fmt.Errorf("invalid recurrence: %w", err)
	} else {
		execErr = s.execute(ctx, sched)
		n := rule.Next(scheduledFor)
		if !n.After(now) {
			// The loop was down across one or more occurrences; those are not replayed.
			n = rule.Next(now)
		}
		next = &n
	}
	finished := s.opts.Now()

	status := models.RunSuccess
	errText := ""
	if execErr != nil {
		status = models.RunFailed
		errText = execErr.Error()
		log.Warn("schedule execution failed", zap.Time("scheduled_for", scheduledFor), zap.Error(execErr))
	} else {
		log.Info("schedule executed", zap.Time("scheduled_for", scheduledFor), zap.Duration("took", finished.Sub(started)))
	}
	metrics.RecordRun(string(sched.Provider), string(sched.Action), string(status), finished.Sub(started))

	outcome := repo.Outcome{
		Schedule:     sched,
		Status:       status,
		Error:        errText,
		ScheduledFor: scheduledFor,
		NextRunAt:    next,
		StartedAt:    started,
		FinishedAt:   finished,
		InstanceID:   s.opts.InstanceID,
	}

	// Recording outlives a cancelled tick so a shutdown does not lose a finished action.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.store.RecordOutcome(rctx, outcome); err != nil {
		log.Error("record outcome failed; lease will expire", zap.Error(err))
		return status, err
	}

	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.PublishRun(rctx, outcome.Run()); err != nil {
			log.Warn("publish run event failed", zap.Error(err))
		}
	}
	return status, nil
}

// release hands an undispatched claim back with next_run_at untouched. If it fails the
// lease simply expires.
func (s *Scheduler) release(ctx context.Context, sched models.Schedule) {
	if sched.ClaimedUntil == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.store.ReleaseClaim(rctx, sched.ID, *sched.ClaimedUntil); err != nil {
		s.logger.Warn("release claim failed; lease will expire", zap.String("schedule_id", sched.ID), zap.Error(err))
		return
	}
	s.logger.Info("claim released on shutdown", zap.String("schedule_id", sched.ID))
}

// execute calls the executor with the per-call timeout. The call is detached from
// ctx cancellation: a dispatched action is never cut short by shutdown. An executor
// that ignores its context is abandoned at the deadline; a panic is converted to an error.
func (s *Scheduler) execute(ctx context.Context, sched models.Schedule) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ExecTimeout)
	defer cancel()

	target := provider.Target{
		Provider:     sched.Provider,
		ResourceType: sched.ResourceType,
		ResourceID:   sched.ResourceID,
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("executor panic: %v", r)
			}
		}()
		done <- s.exec.Execute(ctx, target, sched.Action)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("execution timed out after %s", s.opts.ExecTimeout)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("execution timed out after %s", s.opts.ExecTimeout)
	}
}

func (s *Scheduler) beat(ctx context.Context, summary TickSummary, tickErr error) {
	if s.opts.Heartbeat == nil {
		return
	}
	t := heartbeat.Tick{
		InstanceID: s.opts.InstanceID,
		At:         summary.At,
		Claimed:    summary.Claimed,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
	}
	if tickErr != nil {
		t.Error = tickErr.Error()
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.opts.Heartbeat.RecordTick(hctx, t); err != nil {
		s.logger.Warn("heartbeat failed", zap.Error(err))
	}
}

// cronLogger adapts zap.Logger to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// Run ticks immediately and then every interval until ctx is done. Overlapping ticks
// are skipped and a panicking tick does not stop the loop. Run waits for the tick in
// progress before returning.
func (s *Scheduler) Run(ctx context.Context) {
	cl := cronLogger{logger: s.logger.Named("cron")}
	// The immediate tick and the scheduled ones share one chain.
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		_, _ = s.Tick(ctx, s.opts.Now())
	}))
	c := cron.New(cron.WithLogger(cl))
	c.Schedule(cron.Every(s.opts.Interval), job)

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.Duration("lease", s.opts.Lease),
		zap.Duration("exec_timeout", s.opts.ExecTimeout),
		zap.Int("workers", s.opts.Workers),
		zap.String("instance_id", s.opts.InstanceID))

	job.Run()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}
