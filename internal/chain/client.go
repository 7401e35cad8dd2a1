// Package chain adapts go-ethereum for the agent: bundled ABIs, the RPC
// client, the Multicall2 aggregator and the transaction submitter.
package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// RPCClient is a thin wrapper over ethclient.Client.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient dials an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}
