// Package evm serves supply events straight from a node via eth_getLogs, for
// chains without an indexed event API.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/devblac/comet-liquidator/internal/source"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var _ source.LogSource = (*Source)(nil)

// LogClient captures the subset of ethclient used by the source.
type LogClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Source filters logs for one contract and topic from FromBlock to latest
// and pages them locally by Query.Start/Limit, so callers see the same
// offset semantics as the HTTP API.
type Source struct {
	client    LogClient
	contract  common.Address
	fromBlock uint64
}

// NewSource builds an RPC-backed log source.
func NewSource(client LogClient, contract common.Address, fromBlock uint64) *Source {
	return &Source{client: client, contract: contract, fromBlock: fromBlock}
}

// FetchLogs returns the requested page of matching logs.
func (s *Source) FetchLogs(ctx context.Context, q source.Query) (source.Page, error) {
	topic := common.HexToHash(q.Topic)
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(s.fromBlock),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return source.Page{}, fmt.Errorf("filter logs: %w", err)
	}

	// Drop removed logs before paging so offsets and page lengths only
	// count live events.
	live := make([]types.Log, 0, len(logs))
	for _, lg := range logs {
		if !lg.Removed {
			live = append(live, lg)
		}
	}
	logs = live

	page := source.Page{Total: len(logs)}
	start := q.Start
	if start < 0 {
		start = 0
	}
	if start >= len(logs) {
		return page, nil
	}
	end := len(logs)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}

	page.Records = make([]source.Record, 0, end-start)
	for _, lg := range logs[start:end] {
		topics := make([]string, len(lg.Topics))
		for i, t := range lg.Topics {
			topics[i] = t.Hex()
		}
		page.Records = append(page.Records, source.Record{Topics: topics, Cursor: lg.BlockNumber})
	}
	return page, nil
}
