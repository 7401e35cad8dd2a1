// Package registry holds the set of accounts ever seen supplying collateral.
package registry

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is a deduplicated, insertion-ordered, grow-only address set.
// Accounts are never removed: a liquidated or repaid account can become
// eligible again later.
type Registry struct {
	mu    sync.RWMutex
	index map[common.Address]struct{}
	order []common.Address
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{index: map[common.Address]struct{}{}}
}

// Add inserts addr if absent and reports whether it was new.
func (r *Registry) Add(addr common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[addr]; ok {
		return false
	}
	r.index[addr] = struct{}{}
	r.order = append(r.order, addr)
	return true
}

// Contains reports whether addr has been observed.
func (r *Registry) Contains(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[addr]
	return ok
}

// Snapshot returns a copy of the registry in insertion order.
func (r *Registry) Snapshot() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Size returns the number of distinct addresses.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
