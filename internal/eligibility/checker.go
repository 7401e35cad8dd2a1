// Package eligibility sweeps candidate accounts for liquidation eligibility
// using chunked Multicall2 aggregate reads.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/comet-liquidator/internal/chain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize bounds the number of reads in one aggregate call.
const DefaultChunkSize = 100

const queryMethod = "isLiquidatable"

var (
	// ErrChunkFailed marks a chunk whose results were discarded.
	ErrChunkFailed = errors.New("chunk failed")
	// ErrDecode marks return data that does not decode to a bool.
	ErrDecode = errors.New("decode eligibility result")
)

// ChunkError describes one discarded chunk.
type ChunkError struct {
	Index int
	Size  int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d accounts): %v", e.Index, e.Size, e.Err)
}

func (e *ChunkError) Unwrap() []error { return []error{ErrChunkFailed, e.Err} }

// Report is the outcome of one sweep.
type Report struct {
	Eligible []common.Address
	Checked  int
	Chunks   int
	Failed   []*ChunkError
}

// Config controls the sweep.
type Config struct {
	// Comet is the contract answering isLiquidatable.
	Comet       common.Address
	ChunkSize   int
	Concurrency int
	Logger      *slog.Logger
}

// Checker runs eligibility sweeps.
type Checker struct {
	agg         chain.Aggregator
	comet       common.Address
	abi         *abi.ABI
	chunkSize   int
	concurrency int
	logger      *slog.Logger
}

// NewChecker builds a checker; cometABI must expose isLiquidatable(address).
func NewChecker(agg chain.Aggregator, cometABI *abi.ABI, cfg Config) (*Checker, error) {
	if cometABI == nil {
		return nil, errors.New("comet abi required")
	}
	if _, ok := cometABI.Methods[queryMethod]; !ok {
		return nil, fmt.Errorf("comet abi has no %s method", queryMethod)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Checker{
		agg:         agg,
		comet:       cfg.Comet,
		abi:         cometABI,
		chunkSize:   cfg.ChunkSize,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.With("component", "eligibility"),
	}, nil
}

// CheckAll partitions addrs into chunks, issues one aggregate call per
// chunk and returns the eligible accounts in input order. A failed chunk
// contributes nothing and does not stop the sweep; the returned error is
// non-nil only if ctx is done.
func (c *Checker) CheckAll(ctx context.Context, addrs []common.Address) (Report, error) {
	chunks := partition(addrs, c.chunkSize)
	report := Report{Checked: len(addrs), Chunks: len(chunks)}
	if len(chunks) == 0 {
		return report, nil
	}

	results := make([][]common.Address, len(chunks))
	failures := make([]*ChunkError, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			eligible, err := c.checkChunk(gctx, chunk)
			if err != nil {
				failures[i] = &ChunkError{Index: i, Size: len(chunk), Err: err}
				c.logger.Warn("eligibility chunk discarded, retry next round",
					"chunk", i,
					"size", len(chunk),
					"error", err,
				)
				return nil
			}
			results[i] = eligible
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.Eligible = []common.Address{}
	for i := range chunks {
		if failures[i] != nil {
			report.Failed = append(report.Failed, failures[i])
			continue
		}
		report.Eligible = append(report.Eligible, results[i]...)
	}
	return report, nil
}

func (c *Checker) checkChunk(ctx context.Context, chunk []common.Address) ([]common.Address, error) {
	calls := make([]chain.Call, len(chunk))
	for i, addr := range chunk {
		data, err := c.abi.Pack(queryMethod, addr)
		if err != nil {
			return nil, fmt.Errorf("pack %s(%s): %w", queryMethod, addr.Hex(), err)
		}
		calls[i] = chain.Call{Target: c.comet, CallData: data}
	}

	returnData, err := c.agg.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}
	if len(returnData) != len(calls) {
		return nil, fmt.Errorf("result count mismatch: %d calls, %d results", len(calls), len(returnData))
	}

	eligible := []common.Address{}
	for i, raw := range returnData {
		ok, err := c.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", chunk[i].Hex(), err)
		}
		if ok {
			eligible = append(eligible, chunk[i])
		}
	}
	return eligible, nil
}

func (c *Checker) decode(raw []byte) (bool, error) {
	vals, err := c.abi.Unpack(queryMethod, raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("%w: want 1 value, got %d", ErrDecode, len(vals))
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: unexpected type %T", ErrDecode, vals[0])
	}
	return b, nil
}

func partition(addrs []common.Address, size int) [][]common.Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([][]common.Address, 0, (len(addrs)+size-1)/size)
	for start := 0; start < len(addrs); start += size {
		end := start + size
		if end > len(addrs) {
			end = len(addrs)
		}
		out = append(out, addrs[start:end])
	}
	return out
}
