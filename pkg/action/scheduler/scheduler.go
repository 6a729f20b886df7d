// Package scheduler runs the background poll loop of spec §5: it drains
// due PENDING actions from the store and executes them with bounded
// concurrency, completing each through the action coordinator. This is
// the only component that transitions a PENDING action to IN_PROGRESS off
// the ingestion path.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/sentinelops/remediator/internal/errors"
	"github.com/sentinelops/remediator/pkg/action"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/logging"
	"github.com/sentinelops/remediator/pkg/randsrc"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// Executor performs the side-effecting work a due action names (calling a
// vendor API, running a reversal script, or similar) and reports the
// outcome. Scheduler never inspects action.Parameters itself — that is
// Executor's concern.
type Executor interface {
	Execute(ctx context.Context, act *types.Action) (succeeded bool, result string, vendor string, err error)
}

// Config tunes the poll loop.
type Config struct {
	// PollInterval is the base time between polls.
	PollInterval time.Duration
	// Jitter is a fractional half-width applied to PollInterval, so
	// multiple scheduler instances don't all wake in lockstep.
	Jitter float64
	// BatchSize bounds how many due actions a single poll claims.
	BatchSize int
	// Concurrency bounds how many actions execute at once within a poll.
	Concurrency int
}

// DefaultConfig is a reasonable starting point for a single scheduler
// instance.
var DefaultConfig = Config{
	PollInterval: 5 * time.Second,
	Jitter:       0.1,
	BatchSize:    50,
	Concurrency:  8,
}

// Scheduler is the background poller driving due actions to completion.
type Scheduler struct {
	store       store.Store
	clock       clock.Clock
	rand        randsrc.Source
	coordinator *action.Coordinator
	executor    Executor
	log         *logging.BoundSink
	cfg         Config
}

// New returns a Scheduler. log is bound with a fixed "scheduler"
// correlation id since the poll loop has no per-request correlation of
// its own.
func New(s store.Store, clk clock.Clock, rnd randsrc.Source, coord *action.Coordinator, exec Executor, log *logging.Sink, cfg Config) *Scheduler {
	return &Scheduler{
		store:       s,
		clock:       clk,
		rand:        rnd,
		coordinator: coord,
		executor:    exec,
		log:         log.WithCorrelation("scheduler"),
		cfg:         cfg,
	}
}

// Run polls until ctx is cancelled. Each poll's due actions are drained
// with bounded concurrency (errgroup.SetLimit) before the next wait
// begins — the loop never overlaps two polls.
func (sch *Scheduler) Run(ctx context.Context) error {
	for {
		if err := sch.sleep(ctx); err != nil {
			return err
		}
		if err := sch.pollOnce(ctx); err != nil {
			sch.log.Error("poll failed", logging.NewFields().Component("scheduler").Error(err))
		}
	}
}

// sleep waits one jittered poll interval, or returns ctx.Err() if
// cancelled first.
func (sch *Scheduler) sleep(ctx context.Context) error {
	jitter := sch.rand.Uniform(-sch.cfg.Jitter, sch.cfg.Jitter)
	interval := time.Duration(float64(sch.cfg.PollInterval) * (1 + jitter))
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pollOnce claims and executes one batch of due actions, checking
// cancellation between actions rather than mid-action: an action already
// handed to Executor runs to completion even if ctx is cancelled
// mid-poll, since a half-executed remediation is worse than a delayed
// shutdown.
func (sch *Scheduler) pollOnce(ctx context.Context) error {
	due, err := sch.store.ListDueActions(ctx, sch.clock.Now(), sch.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sch.cfg.Concurrency)
	for _, act := range due {
		if ctx.Err() != nil {
			break
		}
		act := act
		g.Go(func() error {
			return sch.execute(gctx, act)
		})
	}
	return g.Wait()
}

// execute claims act by transitioning it to IN_PROGRESS, runs it through
// Executor, and completes it. Losing the IN_PROGRESS claim to a
// concurrent poller (another scheduler replica, or a retry already
// in-flight) is not an error — it just means this instance isn't the one
// executing act.
func (sch *Scheduler) execute(ctx context.Context, act *types.Action) error {
	fields := logging.NewFields().Component("scheduler").Resource("action", act.ID)

	inProgress, err := sch.store.TransitionAction(ctx, act.ID, types.ActionStatusPending, types.ActionStatusInProgress, "")
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeInvariantViolation) {
			return nil
		}
		sch.log.Error("claim failed", fields.Error(err))
		return err
	}

	// The claim succeeded: execution and completion run to the end even if
	// ctx is cancelled from here on.
	ctx = context.WithoutCancel(ctx)

	succeeded, result, vendor, execErr := sch.executor.Execute(ctx, inProgress)
	if execErr != nil {
		succeeded = false
		result = execErr.Error()
	}

	if inProgress.Kind == types.ActionKindRetry {
		if _, err := sch.coordinator.CompleteRetry(ctx, inProgress, succeeded, result, vendor); err != nil {
			sch.log.Error("complete retry failed", fields.Error(err))
			return err
		}
		sch.log.Info("retry completed", fields)
		return nil
	}

	to := types.ActionStatusSucceeded
	if !succeeded {
		to = types.ActionStatusFailed
	}
	if _, err := sch.store.TransitionAction(ctx, inProgress.ID, types.ActionStatusInProgress, to, result); err != nil {
		sch.log.Error("complete action failed", fields.Error(err))
		return err
	}
	sch.log.Info("action completed", fields)
	return nil
}
