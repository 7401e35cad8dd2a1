// Package ingest keeps the candidate registry fed from collateral-supply events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/devblac/comet-liquidator/internal/address"
	"github.com/devblac/comet-liquidator/internal/source"
	"github.com/ethereum/go-ethereum/common"
)

// ErrRefreshExhausted is returned when the event query kept failing past the retry budget.
var ErrRefreshExhausted = errors.New("event refresh failed")

// accountTopic is the topic slot carrying the supplying account.
const accountTopic = 2

// Adder is the registry surface the ingestor writes to.
type Adder interface {
	Add(addr common.Address) bool
}

// Cursor tracks the page position of the last refresh.
type Cursor struct {
	Start     int
	Limit     int
	Exhausted bool
}

// Config controls the query and its retry budget.
type Config struct {
	LogAddress     string
	Topic          string
	Limit          int
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// Ingestor fetches supply events and merges their accounts into a registry.
type Ingestor struct {
	src    source.LogSource
	cfg    Config
	topic0 string
	logger *slog.Logger

	mu     sync.Mutex
	cursor Cursor
}

// New builds an ingestor over src.
func New(src source.LogSource, cfg Config) *Ingestor {
	if cfg.Limit <= 0 {
		cfg.Limit = 2000
	}
	// backoff.WithMaxRetries treats 0 as unlimited, so 0 means default here.
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingestor{
		src:    src,
		cfg:    cfg,
		topic0: normalizeHex(cfg.Topic),
		logger: cfg.Logger.With("component", "ingest"),
		cursor: Cursor{Limit: cfg.Limit},
	}
}

// Cursor returns the cursor as of the last refresh.
func (i *Ingestor) Cursor() Cursor {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cursor
}

// Refresh rescans the first page of supply events from offset 0 and adds
// every decoded account to reg. It returns the accounts reg had not seen.
// Transport failures are retried with capped exponential backoff; once the
// budget is spent the error wraps ErrRefreshExhausted and reg is untouched.
func (i *Ingestor) Refresh(ctx context.Context, reg Adder) ([]common.Address, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.cursor.Start = 0
	i.cursor.Exhausted = false
	q := source.Query{
		LogAddress: i.cfg.LogAddress,
		Topic:      i.cfg.Topic,
		Start:      i.cursor.Start,
		Limit:      i.cursor.Limit,
		Count:      true,
	}

	page, attempts, err := i.fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrRefreshExhausted, attempts, err)
	}

	fresh := []common.Address{}
	skipped := 0
	for _, rec := range page.Records {
		addr, ok := i.decode(rec)
		if !ok {
			skipped++
			continue
		}
		if reg.Add(addr) {
			fresh = append(fresh, addr)
		}
	}

	i.cursor.Start += len(page.Records)
	i.cursor.Exhausted = len(page.Records) < i.cursor.Limit

	i.logger.Info("supply events refreshed",
		"records", len(page.Records),
		"total", page.Total,
		"new", len(fresh),
		"skipped", skipped,
		"attempts", attempts,
		"next_start", i.cursor.Start,
		"exhausted", i.cursor.Exhausted,
	)
	return fresh, nil
}

func (i *Ingestor) fetch(ctx context.Context, q source.Query) (source.Page, int, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = i.cfg.InitialBackoff
	exp.MaxInterval = i.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, i.cfg.MaxRetries), ctx)

	var page source.Page
	attempts := 0
	op := func() error {
		attempts++
		p, err := i.src.FetchLogs(ctx, q)
		if err != nil {
			var nr *source.NonRetryableError
			if errors.As(err, &nr) {
				return backoff.Permanent(err)
			}
			return err
		}
		page = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		i.logger.Warn("event query failed, retrying",
			"attempt", attempts,
			"max_retries", i.cfg.MaxRetries,
			"backoff", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return source.Page{}, attempts, err
	}
	return page, attempts, nil
}

func (i *Ingestor) decode(rec source.Record) (common.Address, bool) {
	if len(rec.Topics) <= accountTopic {
		i.logger.Warn("supply event missing account topic", "topics", len(rec.Topics), "cursor", rec.Cursor)
		return common.Address{}, false
	}
	if i.topic0 != "" && normalizeHex(rec.Topics[0]) != i.topic0 {
		i.logger.Warn("unexpected event signature", "topic0", rec.Topics[0], "cursor", rec.Cursor)
		return common.Address{}, false
	}
	addr, err := address.DecodeTopicHex(rec.Topics[accountTopic])
	if err != nil {
		i.logger.Warn("skip supply event", "cursor", rec.Cursor, "error", err)
		return common.Address{}, false
	}
	return addr, true
}

func normalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "0x")
}
