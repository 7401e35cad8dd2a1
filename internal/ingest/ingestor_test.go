package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/devblac/comet-liquidator/internal/address"
	"github.com/devblac/comet-liquidator/internal/registry"
	"github.com/devblac/comet-liquidator/internal/source"
	"github.com/ethereum/go-ethereum/common"
)

const supplyTopic = "fa56f7b24f17183d81894d3ac2ee654e3c26388d17a28dbd9549b8114304e1f4"

type fakeSource struct {
	pages   []source.Page
	errs    []error
	calls   int
	queries []source.Query
}

func (f *fakeSource) FetchLogs(_ context.Context, q source.Query) (source.Page, error) {
	idx := f.calls
	f.calls++
	f.queries = append(f.queries, q)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return source.Page{}, f.errs[idx]
	}
	if len(f.pages) == 0 {
		return source.Page{}, nil
	}
	if idx >= len(f.pages) {
		return f.pages[len(f.pages)-1], nil
	}
	return f.pages[idx], nil
}

func record(account common.Address) source.Record {
	return source.Record{Topics: []string{
		supplyTopic,
		strings.TrimPrefix(address.EncodeTopic(common.HexToAddress("0xb0")).Hex(), "0x"),
		strings.TrimPrefix(address.EncodeTopic(account).Hex(), "0x"),
	}}
}

func testConfig() Config {
	return Config{
		LogAddress:     "comet",
		Topic:          supplyTopic,
		Limit:          2000,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestRefreshAddsAccounts(t *testing.T) {
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")
	src := &fakeSource{pages: []source.Page{{Records: []source.Record{record(a), record(b), record(a)}, Total: 3}}}
	reg := registry.New()

	ing := New(src, testConfig())
	fresh, err := ing.Refresh(context.Background(), reg)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(fresh) != 2 || fresh[0] != a || fresh[1] != b {
		t.Fatalf("unexpected fresh set: %v", fresh)
	}
	if reg.Size() != 2 {
		t.Fatalf("expected 2 candidates, got %d", reg.Size())
	}

	q := src.queries[0]
	if q.Start != 0 || q.Limit != 2000 || !q.Count || q.Topic != supplyTopic || q.LogAddress != "comet" {
		t.Fatalf("unexpected query: %+v", q)
	}
	cur := ing.Cursor()
	if cur.Start != 3 || !cur.Exhausted {
		t.Fatalf("unexpected cursor: %+v", cur)
	}

	// a second refresh rescans from offset 0 and reports nothing new
	fresh, err = ing.Refresh(context.Background(), reg)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected no new accounts, got %v", fresh)
	}
	if src.queries[1].Start != 0 {
		t.Fatalf("refresh must restart from offset 0, got %d", src.queries[1].Start)
	}
}

func TestRefreshSkipsMalformedRecords(t *testing.T) {
	good := common.HexToAddress("0xaa")
	bad := record(common.HexToAddress("0xbb"))
	bad.Topics[2] = "ff" + bad.Topics[2][2:]
	wrongEvent := record(common.HexToAddress("0xcc"))
	wrongEvent.Topics[0] = strings.Repeat("11", 32)
	short := source.Record{Topics: []string{supplyTopic}}

	src := &fakeSource{pages: []source.Page{{Records: []source.Record{bad, record(good), wrongEvent, short}}}}
	reg := registry.New()

	fresh, err := New(src, testConfig()).Refresh(context.Background(), reg)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(fresh) != 1 || fresh[0] != good {
		t.Fatalf("expected only %s, got %v", good.Hex(), fresh)
	}
}

func TestRefreshRetriesTransientFailures(t *testing.T) {
	a := common.HexToAddress("0xaa")
	transient := errors.New("connection reset")
	src := &fakeSource{
		errs:  []error{transient, transient},
		pages: []source.Page{{}, {}, {Records: []source.Record{record(a)}}},
	}
	reg := registry.New()

	fresh, err := New(src, testConfig()).Refresh(context.Background(), reg)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", src.calls)
	}
	if len(fresh) != 1 {
		t.Fatalf("expected 1 new account, got %d", len(fresh))
	}
}

func TestRefreshExhaustsRetryBudget(t *testing.T) {
	transient := errors.New("timeout")
	src := &fakeSource{errs: []error{transient, transient, transient, transient, transient}}
	reg := registry.New()
	reg.Add(common.HexToAddress("0x01"))

	_, err := New(src, testConfig()).Refresh(context.Background(), reg)
	if !errors.Is(err, ErrRefreshExhausted) {
		t.Fatalf("expected ErrRefreshExhausted, got %v", err)
	}
	if !errors.Is(err, transient) {
		t.Fatalf("expected underlying error to be wrapped, got %v", err)
	}
	// 1 initial attempt + 3 retries
	if src.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", src.calls)
	}
	if reg.Size() != 1 {
		t.Fatalf("registry must keep its last-known state")
	}
}

func TestRefreshDoesNotRetryPermanentFailures(t *testing.T) {
	src := &fakeSource{errs: []error{source.Permanent(errors.New("decode events"))}}

	_, err := New(src, testConfig()).Refresh(context.Background(), registry.New())
	if !errors.Is(err, ErrRefreshExhausted) {
		t.Fatalf("expected ErrRefreshExhausted, got %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", src.calls)
	}
}

func TestRefreshStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transient := errors.New("timeout")
	src := &fakeSource{errs: []error{transient, transient, transient, transient}}
	cfg := testConfig()
	cfg.MaxRetries = 100

	_, err := New(src, cfg).Refresh(ctx, registry.New())
	if !errors.Is(err, ErrRefreshExhausted) {
		t.Fatalf("expected ErrRefreshExhausted, got %v", err)
	}
	if src.calls > 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", src.calls)
	}
}

func TestRefreshLogsCursor(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.Limit = 2
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	src := &fakeSource{pages: []source.Page{{Records: []source.Record{record(common.HexToAddress("0xaa"))}, Total: 1}}}

	ing := New(src, cfg)
	if _, err := ing.Refresh(context.Background(), registry.New()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if cur := ing.Cursor(); cur.Start != 1 || !cur.Exhausted {
		t.Fatalf("unexpected cursor %+v", cur)
	}
	out := buf.String()
	if !strings.Contains(out, "next_start=1") || !strings.Contains(out, "exhausted=true") {
		t.Fatalf("refresh log missing cursor: %s", out)
	}
}
