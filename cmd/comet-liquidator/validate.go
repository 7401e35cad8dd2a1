package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/comet-liquidator/internal/address"
	"github.com/devblac/comet-liquidator/internal/chain"
	"github.com/devblac/comet-liquidator/internal/config"
	"github.com/devblac/comet-liquidator/internal/logging"
	"github.com/devblac/comet-liquidator/internal/source"
	"github.com/spf13/cobra"
)

const probeTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and probe the RPC node and event source",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		if _, err := chain.ParsePrivateKey(cfg.Chain.PrivateKey); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}

		rpc, err := chain.NewRPCClient(cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer rpc.Close()

		failures := 0
		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()

		chainID, err := rpc.ChainID(ctx)
		switch {
		case err != nil:
			failures++
			fmt.Fprintf(out, "- rpc: ERROR %v\n", err)
		case cfg.Chain.ChainID != 0 && chainID.Uint64() != cfg.Chain.ChainID:
			failures++
			fmt.Fprintf(out, "- rpc: chainId %s does not match configured %d\n", chainID, cfg.Chain.ChainID)
		default:
			fmt.Fprintf(out, "- rpc: chainId %s OK\n", chainID)
		}

		src, err := newLogSource(cfg, rpc, logging.NewWithLevel("error"))
		if err != nil {
			return err
		}
		page, err := src.FetchLogs(ctx, source.Query{
			LogAddress: cfg.Events.LogAddress,
			Topic:      cfg.Events.Topic,
			Start:      0,
			Limit:      1,
			Count:      true,
		})
		if err != nil {
			failures++
			fmt.Fprintf(out, "- events (%s): ERROR %v\n", cfg.Events.Source, err)
		} else {
			fmt.Fprintf(out, "- events (%s): %d total OK\n", cfg.Events.Source, page.Total)
			if len(page.Records) > 0 {
				rec := page.Records[0]
				if len(rec.Topics) > 2 {
					if acct, err := address.DecodeTopicHex(rec.Topics[2]); err == nil {
						fmt.Fprintf(out, "  first supplier %s\n", acct.Hex())
					}
				}
			}
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
