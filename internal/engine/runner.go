// Package engine drives the cycle: refresh candidates, sweep eligibility and
// hand eligible accounts to the executor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devblac/comet-liquidator/internal/eligibility"
	"github.com/devblac/comet-liquidator/internal/execution"
	"github.com/devblac/comet-liquidator/internal/ingest"
	"github.com/devblac/comet-liquidator/internal/metrics"
	"github.com/devblac/comet-liquidator/internal/storage"
	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultPeriod          = 60 * time.Second
	DefaultRefreshInterval = 5

	recordTimeout = 5 * time.Second
	staleFactor   = 3
)

// ErrStaleLoop is reported by Healthy when cycles stopped completing.
var ErrStaleLoop = errors.New("scheduler loop stale")

// Ingestor refreshes the candidate set.
type Ingestor interface {
	Refresh(ctx context.Context, reg ingest.Adder) ([]common.Address, error)
}

// Checker sweeps candidates for eligibility.
type Checker interface {
	CheckAll(ctx context.Context, addrs []common.Address) (eligibility.Report, error)
}

// Executor submits a liquidation for the given targets.
type Executor interface {
	Execute(ctx context.Context, targets []common.Address) execution.Attempt
}

// Journal records settled attempts.
type Journal interface {
	InsertAttempt(ctx context.Context, a storage.Attempt) (int64, error)
}

// Notifier announces settled attempts.
type Notifier interface {
	Notify(ctx context.Context, att execution.Attempt) error
}

// Options tune the runner. Journal, Notifier and Metrics may be nil.
type Options struct {
	Period          time.Duration
	RefreshInterval uint64
	Journal         Journal
	Notifier        Notifier
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Cycle        uint64
	Refreshed    bool
	RefreshErr   error
	Added        int
	Candidates   int
	Eligible     []common.Address
	FailedChunks int
	Dispatched   bool
}

// Runner owns the agent state and runs cycles on a single timer.
type Runner struct {
	state    *AgentState
	ingestor Ingestor
	checker  Checker
	executor Executor
	opts     Options
	logger   *slog.Logger
	nowFunc  func() time.Time

	mu        sync.Mutex
	startedAt time.Time
	inflight  sync.WaitGroup
}

// NewRunner wires the cycle components around state.
func NewRunner(state *AgentState, ing Ingestor, chk Checker, exe Executor, opts Options) (*Runner, error) {
	if state == nil || state.Registry == nil {
		return nil, errors.New("agent state with registry required")
	}
	if ing == nil || chk == nil || exe == nil {
		return nil, errors.New("ingestor, checker and executor required")
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		state:    state,
		ingestor: ing,
		checker:  chk,
		executor: exe,
		opts:     opts,
		logger:   opts.Logger.With("component", "engine"),
		nowFunc:  time.Now,
	}, nil
}

// State returns a copy of the loop bookkeeping.
func (r *Runner) State() LoopState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Loop
}

// RunOnce runs one cycle. A submission, if any, is dispatched in the
// background and RunOnce returns without waiting for it; use Wait for that.
// The only error returned is ctx's.
func (r *Runner) RunOnce(ctx context.Context) (CycleReport, error) {
	r.mu.Lock()
	cycle := r.state.Loop.CycleCount
	r.state.Loop.CycleCount++
	r.mu.Unlock()

	rep := CycleReport{Cycle: cycle}
	reg := r.state.Registry

	if cycle%r.opts.RefreshInterval == 0 {
		rep.Refreshed = true
		fresh, err := r.ingestor.Refresh(ctx, reg)
		if err != nil {
			rep.RefreshErr = err
			r.opts.Metrics.RefreshFailed()
			r.logger.Warn("candidate refresh failed, keeping last known set", "cycle", cycle, "error", err)
		} else {
			rep.Added = len(fresh)
			r.opts.Metrics.Refreshed()
		}
	}

	candidates := reg.Snapshot()
	rep.Candidates = len(candidates)
	r.opts.Metrics.SetCandidates(len(candidates))

	report, err := r.checker.CheckAll(ctx, candidates)
	if err != nil {
		return rep, fmt.Errorf("cycle %d: %w", cycle, err)
	}
	rep.Eligible = report.Eligible
	rep.FailedChunks = len(report.Failed)
	r.opts.Metrics.ChunkFailed(len(report.Failed))
	r.opts.Metrics.SetEligible(len(report.Eligible))

	if len(report.Eligible) > 0 {
		r.dispatch(ctx, report.Eligible)
		rep.Dispatched = true
	}

	r.mu.Lock()
	r.state.Loop.LastCycleAt = r.nowFunc()
	r.mu.Unlock()
	r.opts.Metrics.CycleCompleted()

	r.logger.Info("cycle complete",
		"cycle", cycle,
		"candidates", rep.Candidates,
		"eligible", len(rep.Eligible),
		"failed_chunks", rep.FailedChunks,
		"refreshed", rep.Refreshed,
	)
	return rep, nil
}

// dispatch submits in the background. The submission outlives ctx so that
// shutdown never interrupts a transaction half way.
func (r *Runner) dispatch(ctx context.Context, targets []common.Address) {
	execCtx := context.WithoutCancel(ctx)
	targets = append([]common.Address(nil), targets...)

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("liquidation dispatch panicked", "panic", p)
			}
		}()
		att := r.executor.Execute(execCtx, targets)
		r.opts.Metrics.Submission(string(att.Strategy), string(att.Outcome))
		r.journal(execCtx, att)
		r.notify(execCtx, att)
	}()
}

func (r *Runner) journal(ctx context.Context, att execution.Attempt) {
	if r.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	rec := storage.Attempt{
		Strategy:  string(att.Strategy),
		Outcome:   string(att.Outcome),
		Reason:    att.Reason(),
		Targets:   make([]string, 0, len(att.Targets)),
		CreatedAt: att.FinishedAt,
	}
	if att.TxHash != (common.Hash{}) {
		rec.TxHash = att.TxHash.Hex()
	}
	if att.PrimaryErr != nil {
		rec.PrimaryError = att.PrimaryErr.Error()
	}
	for _, t := range att.Targets {
		rec.Targets = append(rec.Targets, t.Hex())
	}
	if _, err := r.opts.Journal.InsertAttempt(ctx, rec); err != nil {
		r.logger.Warn("journal attempt failed", "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, att execution.Attempt) {
	if r.opts.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := r.opts.Notifier.Notify(ctx, att); err != nil {
		r.logger.Warn("attempt notification failed", "error", err)
	}
}

// Wait blocks until every dispatched submission has settled.
func (r *Runner) Wait() {
	r.inflight.Wait()
}

// Run starts the first cycle immediately and then one cycle per period,
// measured from the end of the previous cycle. A failing or panicking cycle
// is logged and the loop reschedules. Run returns nil once ctx is done and
// in-flight submissions have settled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.startedAt = r.nowFunc()
	r.mu.Unlock()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopping, waiting for in-flight submissions")
			r.Wait()
			return nil
		case <-timer.C:
		}

		r.safeCycle(ctx)

		r.mu.Lock()
		r.state.Loop.NextDeadline = r.nowFunc().Add(r.opts.Period)
		r.mu.Unlock()
		timer.Reset(r.opts.Period)
	}
}

func (r *Runner) safeCycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Metrics.CycleError()
			r.logger.Error("cycle panicked", "panic", p)
		}
	}()
	if _, err := r.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.opts.Metrics.CycleError()
		r.logger.Error("cycle failed", "error", err)
	}
}

// Healthy reports ErrStaleLoop when no cycle completed within three periods.
func (r *Runner) Healthy() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := r.state.Loop.LastCycleAt
	if ref.IsZero() {
		ref = r.startedAt
	}
	if ref.IsZero() {
		return errors.New("scheduler loop not started")
	}
	if age := r.nowFunc().Sub(ref); age > staleFactor*r.opts.Period {
		return fmt.Errorf("%w: last cycle %s ago", ErrStaleLoop, age.Truncate(time.Second))
	}
	return nil
}

// Ping adapts Healthy to the health checker signature.
func (r *Runner) Ping(context.Context) error {
	return r.Healthy()
}
