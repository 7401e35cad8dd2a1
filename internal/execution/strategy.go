// Package execution submits liquidations: a flash liquidation through the
// liquidator contract first, then a plain absorb if that submission fails.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Strategy identifies the path an attempt settled on.
type Strategy string

const (
	Primary  Strategy = "primary"
	Fallback Strategy = "fallback"
)

// Outcome is the settled state of an attempt.
type Outcome string

const (
	Success Outcome = "success"
	Failed  Outcome = "failed"
)

var (
	// ErrNoTargets is returned for an empty target list; nothing is submitted.
	ErrNoTargets = errors.New("no liquidation targets")
	// ErrSubmission marks signing or broadcast failures.
	ErrSubmission = errors.New("submission failed")
)

// SubmissionError wraps a failed submission for one strategy.
type SubmissionError struct {
	Strategy Strategy
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s submission: %v", e.Strategy, e.Err)
}

func (e *SubmissionError) Unwrap() []error { return []error{ErrSubmission, e.Err} }

// Submitter signs and broadcasts a call without waiting for a receipt.
type Submitter interface {
	Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Attempt records one execution step.
type Attempt struct {
	Targets    []common.Address
	Strategy   Strategy
	Outcome    Outcome
	TxHash     common.Hash
	Err        error
	PrimaryErr error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Reason is the failure text of the settled strategy, empty on success.
func (a Attempt) Reason() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

// Config wires contracts and the absorbing account.
type Config struct {
	// Liquidator receives initFlash.
	Liquidator common.Address
	// AbsorbTarget receives absorb: the Comet proxy, or the liquidator
	// contract when it forwards absorb.
	AbsorbTarget common.Address
	// Absorber is credited by absorb, normally the bot account.
	Absorber common.Address
	Logger   *slog.Logger
}

// Executor runs the primary/fallback strategy.
type Executor struct {
	submitter     Submitter
	liquidatorABI *abi.ABI
	cometABI      *abi.ABI
	cfg           Config
	logger        *slog.Logger
	nowFunc       func() time.Time
}

// NewExecutor builds an executor. liquidatorABI must expose initFlash and
// cometABI must expose absorb.
func NewExecutor(submitter Submitter, liquidatorABI, cometABI *abi.ABI, cfg Config) (*Executor, error) {
	if submitter == nil {
		return nil, errors.New("submitter required")
	}
	if liquidatorABI == nil || cometABI == nil {
		return nil, errors.New("liquidator and comet abis required")
	}
	if _, ok := liquidatorABI.Methods["initFlash"]; !ok {
		return nil, errors.New("liquidator abi has no initFlash method")
	}
	if _, ok := cometABI.Methods["absorb"]; !ok {
		return nil, errors.New("comet abi has no absorb method")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		submitter:     submitter,
		liquidatorABI: liquidatorABI,
		cometABI:      cometABI,
		cfg:           cfg,
		logger:        cfg.Logger.With("component", "execution"),
		nowFunc:       time.Now,
	}, nil
}

// Execute submits initFlash(targets) to the liquidator. Only if that
// submission fails does it submit absorb(absorber, targets). A reverted
// transaction is not observed here; the next sweep sees the account as
// still eligible. A failed fallback is logged and returned, never retried.
func (e *Executor) Execute(ctx context.Context, targets []common.Address) Attempt {
	att := Attempt{
		Targets:   append([]common.Address(nil), targets...),
		Strategy:  Primary,
		StartedAt: e.nowFunc(),
	}
	if len(targets) == 0 {
		att.Outcome = Failed
		att.Err = ErrNoTargets
		att.FinishedAt = e.nowFunc()
		return att
	}

	hash, err := e.submit(ctx, Primary, e.cfg.Liquidator, e.liquidatorABI, "initFlash", att.Targets)
	if err == nil {
		e.logger.Info("flash liquidation submitted", "tx", hash.Hex(), "targets", len(targets))
		return e.settle(att, Success, hash, nil)
	}

	e.logger.Warn("flash liquidation failed, falling back to absorb", "targets", len(targets), "error", err)
	att.PrimaryErr = err
	att.Strategy = Fallback

	hash, err = e.submit(ctx, Fallback, e.cfg.AbsorbTarget, e.cometABI, "absorb", e.cfg.Absorber, att.Targets)
	if err != nil {
		e.logger.Error("absorb failed", "targets", fmt.Sprint(att.Targets), "error", err)
		return e.settle(att, Failed, common.Hash{}, err)
	}
	e.logger.Info("absorb submitted", "tx", hash.Hex(), "targets", len(targets))
	return e.settle(att, Success, hash, nil)
}

func (e *Executor) submit(ctx context.Context, s Strategy, to common.Address, contract *abi.ABI, method string, args ...any) (common.Hash, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, &SubmissionError{Strategy: s, Err: fmt.Errorf("pack %s: %w", method, err)}
	}
	hash, err := e.submitter.Submit(ctx, to, data)
	if err != nil {
		return common.Hash{}, &SubmissionError{Strategy: s, Err: err}
	}
	return hash, nil
}

func (e *Executor) settle(att Attempt, outcome Outcome, hash common.Hash, err error) Attempt {
	att.Outcome = outcome
	att.TxHash = hash
	att.Err = err
	att.FinishedAt = e.nowFunc()
	return att
}
