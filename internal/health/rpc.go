package health

import (
	"context"
	"fmt"
)

// BlockNumberClient is the read subset of ethclient used for liveness.
type BlockNumberClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCChecker pings one or more named EVM endpoints.
type RPCChecker struct {
	clients map[string]BlockNumberClient
}

// NewRPCChecker creates a checker for the given endpoints.
func NewRPCChecker(clients map[string]BlockNumberClient) *RPCChecker {
	return &RPCChecker{clients: clients}
}

// Ping checks all configured endpoints and returns the last failure.
func (c *RPCChecker) Ping(ctx context.Context) error {
	var lastErr error
	for id, cli := range c.clients {
		if _, err := cli.BlockNumber(ctx); err != nil {
			lastErr = fmt.Errorf("rpc %s: %w", id, err)
		}
	}
	return lastErr
}
