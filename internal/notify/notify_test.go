package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devblac/comet-liquidator/internal/execution"
	"github.com/ethereum/go-ethereum/common"
)

func TestSlackSenderRendersDefaultTemplate(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewSlackSender(server.URL, "")
	if err != nil {
		t.Fatalf("sender: %v", err)
	}

	att := execution.Attempt{
		Targets:  []common.Address{common.HexToAddress("0xaa")},
		Strategy: execution.Primary,
		Outcome:  execution.Success,
		TxHash:   common.HexToHash("0x1234567890abcdef"),
	}
	if err := sender.Send(context.Background(), FromAttempt(att)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if !strings.HasPrefix(got["text"], "primary liquidation success: 1 account(s) tx 0x000000...cdef") {
		t.Fatalf("unexpected payload: %q", got["text"])
	}
}

func TestWebhookStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(server.URL, http.MethodPost, "{{.Outcome}}", nil)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if err := sender.Send(context.Background(), Payload{Outcome: "failed"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestBadTemplateRejected(t *testing.T) {
	if _, err := NewWebhookSender("http://x", "", "{{.Outcome", nil); err == nil {
		t.Fatalf("expected template parse error")
	}
}

type recordingSender struct {
	got []Payload
	err error
}

func (r *recordingSender) Send(_ context.Context, p Payload) error {
	r.got = append(r.got, p)
	return r.err
}

func TestNotifierFiltersAndJoinsErrors(t *testing.T) {
	if NewNotifier(nil, false) != nil {
		t.Fatalf("expected nil notifier without senders")
	}
	var nilNotifier *Notifier
	if err := nilNotifier.Notify(context.Background(), execution.Attempt{}); err != nil {
		t.Fatalf("nil notifier should be a no-op: %v", err)
	}

	boom := errors.New("hook down")
	ok, bad := &recordingSender{}, &recordingSender{err: boom}
	n := NewNotifier([]Sender{ok, bad}, true)

	if err := n.Notify(context.Background(), execution.Attempt{Outcome: execution.Success}); err != nil {
		t.Fatalf("success should be filtered: %v", err)
	}
	if len(ok.got) != 0 {
		t.Fatalf("success notified despite only_failures")
	}

	err := n.Notify(context.Background(), execution.Attempt{
		Strategy:   execution.Fallback,
		Outcome:    execution.Failed,
		Err:        errors.New("absorb reverted"),
		PrimaryErr: errors.New("flash failed"),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined sender error, got %v", err)
	}
	if len(ok.got) != 1 || ok.got[0].Reason != "absorb reverted" || ok.got[0].PrimaryError != "flash failed" {
		t.Fatalf("unexpected payload %+v", ok.got)
	}
}
