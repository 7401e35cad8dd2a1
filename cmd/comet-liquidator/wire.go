package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/devblac/comet-liquidator/internal/chain"
	"github.com/devblac/comet-liquidator/internal/config"
	"github.com/devblac/comet-liquidator/internal/eligibility"
	"github.com/devblac/comet-liquidator/internal/engine"
	"github.com/devblac/comet-liquidator/internal/execution"
	"github.com/devblac/comet-liquidator/internal/ingest"
	"github.com/devblac/comet-liquidator/internal/metrics"
	"github.com/devblac/comet-liquidator/internal/notify"
	"github.com/devblac/comet-liquidator/internal/source"
	"github.com/devblac/comet-liquidator/internal/source/evm"
	"github.com/devblac/comet-liquidator/internal/source/logapi"
	"github.com/devblac/comet-liquidator/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// newLogSource picks the event backend configured under events.source.
func newLogSource(cfg *config.Config, rpc *chain.RPCClient, log *slog.Logger) (source.LogSource, error) {
	switch cfg.Events.Source {
	case config.SourceRPC:
		return evm.NewSource(rpc, common.HexToAddress(cfg.Events.LogAddress), cfg.Events.FromBlock), nil
	default:
		return logapi.NewClient(logapi.Config{
			BaseURL:   cfg.Events.URL,
			Timeout:   cfg.Events.Timeout,
			RateLimit: cfg.Events.RateLimit,
			Logger:    log,
		})
	}
}

type agentOptions struct {
	dryRun  bool
	store   *storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// buildRunner assembles ingest, eligibility and execution around a fresh
// agent state. The ingestor is returned for cursor reporting.
func buildRunner(ctx context.Context, cfg *config.Config, rpc *chain.RPCClient, opts agentOptions) (*engine.Runner, *ingest.Ingestor, error) {
	log := opts.logger

	abis, err := chain.LoadABIs(cfg.Contracts.ABIDir)
	if err != nil {
		return nil, nil, err
	}

	src, err := newLogSource(cfg, rpc, log)
	if err != nil {
		return nil, nil, err
	}
	ing := ingest.New(src, ingest.Config{
		LogAddress:     cfg.Events.LogAddress,
		Topic:          cfg.Events.Topic,
		Limit:          cfg.Events.Limit,
		MaxRetries:     cfg.Events.MaxRetries,
		InitialBackoff: cfg.Events.InitialBackoff,
		MaxBackoff:     cfg.Events.MaxBackoff,
		Logger:         log,
	})

	mc, err := chain.NewMulticall(rpc, common.HexToAddress(cfg.Contracts.Multicall), abis.Multicall, cfg.Chain.CallTimeout)
	if err != nil {
		return nil, nil, err
	}
	chk, err := eligibility.NewChecker(mc, abis.Comet, eligibility.Config{
		Comet:       common.HexToAddress(cfg.Contracts.Comet),
		ChunkSize:   cfg.Scheduler.ChunkSize,
		Concurrency: cfg.Scheduler.ChunkConcurrency,
		Logger:      log,
	})
	if err != nil {
		return nil, nil, err
	}

	submitter, from, err := newSubmitter(ctx, cfg, rpc, opts.dryRun, log)
	if err != nil {
		return nil, nil, err
	}
	absorber := from
	if cfg.Chain.Account != "" {
		absorber = common.HexToAddress(cfg.Chain.Account)
	}
	absorbTarget := common.HexToAddress(cfg.Contracts.Comet)
	if cfg.Contracts.AbsorbVia == config.AbsorbViaLiquidator {
		absorbTarget = common.HexToAddress(cfg.Contracts.Liquidator)
	}
	exe, err := execution.NewExecutor(submitter, abis.Liquidator, abis.Comet, execution.Config{
		Liquidator:   common.HexToAddress(cfg.Contracts.Liquidator),
		AbsorbTarget: absorbTarget,
		Absorber:     absorber,
		Logger:       log,
	})
	if err != nil {
		return nil, nil, err
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, nil, err
	}

	ropts := engine.Options{
		Period:          cfg.Scheduler.Period,
		RefreshInterval: cfg.Scheduler.RefreshInterval,
		Metrics:         opts.metrics,
		Logger:          log,
	}
	if opts.store != nil {
		ropts.Journal = opts.store
	}
	if notifier != nil {
		ropts.Notifier = notifier
	}
	runner, err := engine.NewRunner(engine.NewAgentState(), ing, chk, exe, ropts)
	if err != nil {
		return nil, nil, err
	}
	return runner, ing, nil
}

func newNotifier(cfg *config.Config) (*notify.Notifier, error) {
	senders := make([]notify.Sender, 0, len(cfg.Notify.Sinks))
	for _, s := range cfg.Notify.Sinks {
		var (
			sender notify.Sender
			err    error
		)
		switch strings.ToLower(s.Type) {
		case "slack":
			sender, err = notify.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = notify.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = notify.NewWebhookSender(s.URL, s.Method, s.Template, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("notify sink %s: %w", s.ID, err)
		}
		senders = append(senders, sender)
	}
	return notify.NewNotifier(senders, cfg.Notify.OnlyFailures), nil
}

func newSubmitter(ctx context.Context, cfg *config.Config, rpc *chain.RPCClient, dryRun bool, log *slog.Logger) (execution.Submitter, common.Address, error) {
	if dryRun {
		key, err := chain.ParsePrivateKey(cfg.Chain.PrivateKey)
		if err != nil {
			return nil, common.Address{}, err
		}
		return execution.DryRunSubmitter{Logger: log}, crypto.PubkeyToAddress(key.PublicKey), nil
	}
	gasPrice, err := cfg.Chain.GasPriceWei()
	if err != nil {
		return nil, common.Address{}, err
	}
	var chainID *big.Int
	if cfg.Chain.ChainID != 0 {
		chainID = new(big.Int).SetUint64(cfg.Chain.ChainID)
	}
	sub, err := chain.NewTxSubmitter(ctx, rpc, chain.SubmitterConfig{
		PrivateKey: cfg.Chain.PrivateKey,
		ChainID:    chainID,
		GasLimit:   cfg.Chain.GasLimit,
		GasPrice:   gasPrice,
		Timeout:    cfg.Chain.SubmitTimeout,
	})
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("tx submitter: %w", err)
	}
	return sub, sub.From(), nil
}
