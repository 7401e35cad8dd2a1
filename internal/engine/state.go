package engine

import (
	"time"

	"github.com/devblac/comet-liquidator/internal/registry"
)

// LoopState is the scheduler's bookkeeping.
type LoopState struct {
	// CycleCount is the number of cycles started; refresh runs when it is a
	// multiple of the refresh interval, so cycle 0 always refreshes.
	CycleCount   uint64
	NextDeadline time.Time
	LastCycleAt  time.Time
}

// AgentState is everything the agent holds in memory. It is rebuilt from
// the event source on every start.
type AgentState struct {
	Registry *registry.Registry
	Loop     LoopState
}

// NewAgentState returns an empty state with a fresh registry.
func NewAgentState() *AgentState {
	return &AgentState{Registry: registry.New()}
}
