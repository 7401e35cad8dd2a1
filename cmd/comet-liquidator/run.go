package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/devblac/comet-liquidator/internal/chain"
	"github.com/devblac/comet-liquidator/internal/config"
	"github.com/devblac/comet-liquidator/internal/health"
	"github.com/devblac/comet-liquidator/internal/logging"
	"github.com/devblac/comet-liquidator/internal/metrics"
	"github.com/devblac/comet-liquidator/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run a single cycle, wait for its submission and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Log transactions instead of sending them")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the liquidation loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = cfg.Global.LogLevel
		}
		log := logging.NewWithLevel(logLevel)

		var store *storage.Store
		if cfg.Global.DBPath != "" {
			store, err = storage.Open(cfg.Global.DBPath)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()
		} else {
			log.Info("attempt journal disabled")
		}

		rpc, err := chain.NewRPCClient(cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer rpc.Close()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		runner, ing, err := buildRunner(ctx, cfg, rpc, agentOptions{
			dryRun:  flagDryRun,
			store:   store,
			metrics: mtr,
			logger:  log,
		})
		if err != nil {
			return err
		}

		if flagHealth != "" {
			checker := health.Checker{
				RPCPing:  health.NewRPCChecker(map[string]health.BlockNumberClient{"chain": rpc}).Ping,
				LoopPing: runner.Ping,
			}
			if store != nil {
				checker.DBPing = store.Ping
			}
			healthSrv := health.Serve(flagHealth, checker)
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		log.Info("agent starting",
			"comet", cfg.Contracts.Comet,
			"liquidator", cfg.Contracts.Liquidator,
			"events", cfg.Events.Source,
			"period", cfg.Scheduler.Period,
			"dry_run", flagDryRun,
		)

		if flagOnce {
			rep, err := runner.RunOnce(ctx)
			runner.Wait()
			if err != nil {
				return err
			}
			cur := ing.Cursor()
			log.Info("single cycle complete",
				"candidates", rep.Candidates,
				"eligible", len(rep.Eligible),
				"events_next_start", cur.Start,
				"events_exhausted", cur.Exhausted,
			)
			return nil
		}

		err = runner.Run(ctx)
		log.Info("agent stopped")
		return err
	},
}
