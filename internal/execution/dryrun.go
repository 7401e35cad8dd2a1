package execution

import (
	"context"
	"encoding/hex"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
)

// DryRunSubmitter logs would-be transactions instead of sending them.
type DryRunSubmitter struct {
	Logger *slog.Logger
}

// Submit logs the call and returns the zero hash.
func (d DryRunSubmitter) Submit(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	selector := data
	if len(selector) > 4 {
		selector = selector[:4]
	}
	logger.Info("dry-run: transaction not sent",
		"to", to.Hex(),
		"selector", "0x"+hex.EncodeToString(selector),
		"calldata_bytes", len(data),
	)
	return common.Hash{}, nil
}
