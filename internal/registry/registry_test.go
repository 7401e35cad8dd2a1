package registry

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAddIsIdempotent(t *testing.T) {
	r := New()
	a := common.HexToAddress("0xaa")
	if !r.Add(a) {
		t.Fatalf("first add should report new")
	}
	for i := 0; i < 10; i++ {
		if r.Add(a) {
			t.Fatalf("repeat add %d reported new", i)
		}
	}
	if r.Size() != 1 {
		t.Fatalf("expected size 1, got %d", r.Size())
	}
	if !r.Contains(a) {
		t.Fatalf("expected registry to contain %s", a.Hex())
	}
}

func TestSnapshotInsertionOrderAndStability(t *testing.T) {
	r := New()
	in := []common.Address{
		common.HexToAddress("0x03"),
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
		common.HexToAddress("0x01"),
	}
	for _, a := range in {
		r.Add(a)
	}

	first := r.Snapshot()
	second := r.Snapshot()
	want := in[:3]
	if len(first) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(first))
	}
	for i := range want {
		if first[i] != want[i] || second[i] != want[i] {
			t.Fatalf("index %d: got %s/%s want %s", i, first[i].Hex(), second[i].Hex(), want[i].Hex())
		}
	}

	// mutating a snapshot must not leak into the registry
	first[0] = common.Address{}
	if r.Snapshot()[0] != want[0] {
		t.Fatalf("snapshot aliases registry storage")
	}
}

func TestConcurrentAddAndSnapshot(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Add(common.BigToAddress(big.NewInt(int64(i))))
				_ = r.Snapshot()
			}
		}(g)
	}
	wg.Wait()
	if r.Size() != 100 {
		t.Fatalf("expected 100 distinct addresses, got %d", r.Size())
	}
}
