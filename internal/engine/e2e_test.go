package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/devblac/comet-liquidator/internal/address"
	"github.com/devblac/comet-liquidator/internal/chain"
	"github.com/devblac/comet-liquidator/internal/eligibility"
	"github.com/devblac/comet-liquidator/internal/ingest"
	"github.com/devblac/comet-liquidator/internal/source"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const supplyTopic = "0xfa56f7b24f17183d81894d3ac2ee654e3c26388d17a28dbd9549b8114304e1f4"

type staticSource struct {
	records []source.Record
}

func (s *staticSource) FetchLogs(_ context.Context, q source.Query) (source.Page, error) {
	end := q.Start + q.Limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return source.Page{Records: s.records[q.Start:end], Total: len(s.records)}, nil
}

func supplyRecords(accounts ...common.Address) []source.Record {
	from := address.EncodeTopic(common.HexToAddress("0x0000000000000000000000000000000000000f00")).Hex()
	out := make([]source.Record, 0, len(accounts))
	for i, a := range accounts {
		out = append(out, source.Record{
			Topics: []string{supplyTopic, from, address.EncodeTopic(a).Hex()},
			Cursor: uint64(i),
		})
	}
	return out
}

// cometAggregator answers isLiquidatable from a table and can fail whole
// aggregate calls of a given size.
type cometAggregator struct {
	method     abi.Method
	liquidable map[common.Address]bool
	failSize   int
}

func (c *cometAggregator) Aggregate(_ context.Context, calls []chain.Call) ([][]byte, error) {
	if c.failSize > 0 && len(calls) == c.failSize {
		return nil, errors.New("execution reverted")
	}
	out := make([][]byte, 0, len(calls))
	for _, call := range calls {
		args, err := c.method.Inputs.Unpack(call.CallData[4:])
		if err != nil {
			return nil, err
		}
		ret, err := c.method.Outputs.Pack(c.liquidable[args[0].(common.Address)])
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, nil
}

func newPipeline(t *testing.T, accounts []common.Address, agg *cometAggregator) (*Runner, *fakeExecutor) {
	t.Helper()
	abis, err := chain.LoadABIs("")
	if err != nil {
		t.Fatalf("load abis: %v", err)
	}
	agg.method = abis.Comet.Methods["isLiquidatable"]

	ing := ingest.New(&staticSource{records: supplyRecords(accounts...)}, ingest.Config{
		Topic:  supplyTopic,
		Logger: quietLogger(),
	})
	chk, err := eligibility.NewChecker(agg, abis.Comet, eligibility.Config{
		Comet:  common.HexToAddress("0xc3d688B66703497DAA19211EEdff47f25384cdc3"),
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	exe := &fakeExecutor{}
	return newRunner(t, ing, chk, exe, Options{}), exe
}

func TestPipelineExecutesOnlyLiquidatable(t *testing.T) {
	agg := &cometAggregator{liquidable: map[common.Address]bool{acctA: true, acctB: false}}
	r, exe := newPipeline(t, []common.Address{acctA, acctB}, agg)

	rep, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	r.Wait()

	if rep.Candidates != 2 {
		t.Fatalf("expected 2 candidates, got %d", rep.Candidates)
	}
	calls := exe.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0] != acctA {
		t.Fatalf("expected execute([%s]), got %v", acctA.Hex(), calls)
	}
}

func TestPipelinePartialChunkFailure(t *testing.T) {
	accounts := make([]common.Address, 150)
	liquidable := map[common.Address]bool{}
	for i := range accounts {
		accounts[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
		liquidable[accounts[i]] = true
	}
	agg := &cometAggregator{liquidable: liquidable, failSize: 50}
	r, exe := newPipeline(t, accounts, agg)

	rep, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	r.Wait()

	if rep.FailedChunks != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", rep.FailedChunks)
	}
	calls := exe.Calls()
	if len(calls) != 1 || len(calls[0]) != 100 {
		t.Fatalf("expected the first chunk's 100 accounts to execute, got %v", len(calls))
	}
	for i, a := range calls[0] {
		if a != accounts[i] {
			t.Fatalf("target %d = %s, want %s", i, a.Hex(), accounts[i].Hex())
		}
	}
}
