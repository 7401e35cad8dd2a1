package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxBackend is the write-side subset of ethclient.
type TxBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// SubmitterConfig holds the signing key and gas policy.
type SubmitterConfig struct {
	// PrivateKey is hex, with or without 0x.
	PrivateKey string
	// ChainID is used for EIP-155 signing; nil asks the node.
	ChainID  *big.Int
	GasLimit uint64
	// GasPrice in wei; nil uses eth_gasPrice per transaction.
	GasPrice *big.Int
	// Timeout bounds nonce lookup, pricing, signing and broadcast together.
	Timeout time.Duration
}

// TxSubmitter signs and broadcasts legacy transactions from one key. It
// returns as soon as the node accepts the transaction; receipts are not awaited.
type TxSubmitter struct {
	backend  TxBackend
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   types.Signer
	gasLimit uint64
	gasPrice *big.Int
	timeout  time.Duration

	// serializes nonce allocation across overlapping submissions
	mu sync.Mutex
}

// NewTxSubmitter parses the key and resolves the chain ID.
func NewTxSubmitter(ctx context.Context, backend TxBackend, cfg SubmitterConfig) (*TxSubmitter, error) {
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve chain id: %w", err)
		}
	}
	if cfg.GasLimit == 0 {
		return nil, errors.New("gas limit required")
	}
	return &TxSubmitter{
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(chainID),
		gasLimit: cfg.GasLimit,
		gasPrice: cfg.GasPrice,
		timeout:  cfg.Timeout,
	}, nil
}

// ParsePrivateKey decodes a hex secp256k1 key.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("private key required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// From returns the sending account.
func (s *TxSubmitter) From() common.Address {
	return s.from
}

// Submit signs a call to `to` with `data` and broadcasts it.
func (s *TxSubmitter) Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice := s.gasPrice
	if gasPrice == nil {
		gasPrice, err = s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      s.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}
