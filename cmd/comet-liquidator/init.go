package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

global:
  db_path: ./liquidator.db
  log_level: info

chain:
  rpc_url: ${RPC_URL}
  chain_id: 1
  private_key: ${PRIVATE_KEY}
  # account: "0x..."        # absorb credit; defaults to the key's address
  gas_limit: 2000000
  # gas_price: "30000000000" # wei; unset asks the node
  call_timeout: 15s
  submit_timeout: 30s

contracts:
  multicall: "0x5BA1e12693Dc8F9c48aAD8770482f4739bEeD696"
  comet: "0xc3d688B66703497DAA19211EEdff47f25384cdc3"
  liquidator: ${LIQUIDATOR_ADDRESS}
  absorb_via: comet
  # abi_dir: ./abis          # Multicall2.json, Comet.json, Liquidator.json overrides

events:
  source: http               # http | rpc
  url: ${EVENTS_URL}
  limit: 2000
  timeout: 10s
  max_retries: 5
  initial_backoff: 1s
  max_backoff: 30s
  rate_limit: 2

scheduler:
  period: 60s
  refresh_interval: 5
  chunk_size: 100
  chunk_concurrency: 1

# notify:
#   only_failures: true
#   sinks:
#     - id: ops
#       type: slack
#       webhook_url: ${SLACK_WEBHOOK}
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("%s already exists", cfgPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", cfgPath, err)
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", cfgPath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nset RPC_URL, PRIVATE_KEY, LIQUIDATOR_ADDRESS and EVENTS_URL (or a .env next to it)\n", cfgPath)
		return nil
	},
}
