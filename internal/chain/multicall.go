package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call is one read in an aggregated request.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Aggregator batches read calls into one round-trip and returns one raw
// result per call, in input order.
type Aggregator interface {
	Aggregate(ctx context.Context, calls []Call) ([][]byte, error)
}

// ContractCaller is the eth_call subset of ethclient.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Multicall implements Aggregator against a Multicall2 contract. aggregate
// reverts as a whole if any inner call reverts.
type Multicall struct {
	caller  ContractCaller
	address common.Address
	abi     *abi.ABI
	timeout time.Duration
}

var _ Aggregator = (*Multicall)(nil)

// NewMulticall builds an aggregator. A nil ABI uses the bundled Multicall2 ABI.
func NewMulticall(caller ContractCaller, address common.Address, multicallABI *abi.ABI, timeout time.Duration) (*Multicall, error) {
	if multicallABI == nil {
		parsed, err := ParseABI(Multicall2ABI)
		if err != nil {
			return nil, fmt.Errorf("load multicall2 abi: %w", err)
		}
		multicallABI = parsed
	}
	if _, ok := multicallABI.Methods["aggregate"]; !ok {
		return nil, fmt.Errorf("multicall abi has no aggregate method")
	}
	return &Multicall{caller: caller, address: address, abi: multicallABI, timeout: timeout}, nil
}

// Address returns the aggregator contract address.
func (m *Multicall) Address() common.Address {
	return m.address
}

type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

// Aggregate packs calls into aggregate(), executes it via eth_call at the
// latest block and returns returnData.
func (m *Multicall) Aggregate(ctx context.Context, calls []Call) ([][]byte, error) {
	if len(calls) == 0 {
		return [][]byte{}, nil
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	packed := make([]aggregateCall, len(calls))
	for i, c := range calls {
		packed[i] = aggregateCall{Target: c.Target, CallData: c.CallData}
	}
	data, err := m.abi.Pack("aggregate", packed)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}

	out, err := m.caller.CallContract(ctx, ethereum.CallMsg{To: &m.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call multicall at %s calls=%d: %w", m.address.Hex(), len(calls), err)
	}

	unpacked, err := m.abi.Unpack("aggregate", out)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(unpacked) != 2 {
		return nil, fmt.Errorf("unpack aggregate: want 2 outputs, got %d", len(unpacked))
	}
	returnData, ok := unpacked[1].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unpack aggregate: unexpected returnData type %T", unpacked[1])
	}
	return returnData, nil
}
