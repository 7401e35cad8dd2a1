package logapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devblac/comet-liquidator/internal/source"
)

func TestFetchLogsBuildsQueryAndParses(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{
			"logAddress": q.Get("logAddress"),
			"topic":      q.Get("topic"),
			"start":      q.Get("start"),
			"limit":      q.Get("limit"),
			"count":      q.Get("count"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"block_number": 7, "log": {"topics": ["fa56", "01", "000000000000000000000000aa"]}},
				{"block_number": 8, "log": {"topics": ["fa56", "02", "000000000000000000000000bb"]}}
			],
			"total": 2
		}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL + "/api/events/contract", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	page, err := c.FetchLogs(context.Background(), source.Query{
		LogAddress: "VMqsmg", Topic: "fa56", Start: 0, Limit: 2000, Count: true,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := map[string]string{"logAddress": "VMqsmg", "topic": "fa56", "start": "0", "limit": "2000", "count": "true"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("param %s = %q, want %q", k, got[k], v)
		}
	}
	if page.Total != 2 || len(page.Records) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Records[1].Cursor != 8 || page.Records[1].Topics[2] != "000000000000000000000000bb" {
		t.Fatalf("unexpected record: %+v", page.Records[1])
	}
}

func TestFetchLogsStatusErrorsAreTransient(t *testing.T) {
	for _, code := range []int{http.StatusBadGateway, http.StatusTooManyRequests, http.StatusNotFound} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		c, err := NewClient(Config{BaseURL: server.URL})
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		_, err = c.FetchLogs(context.Background(), source.Query{Limit: 1})
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", code)
		}
		var nr *source.NonRetryableError
		if errors.As(err, &nr) {
			t.Fatalf("status %d: expected transient error, got non-retryable %v", code, err)
		}
	}
}

func TestFetchLogsBadBodyIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.FetchLogs(context.Background(), source.Query{Limit: 1})
	var nr *source.NonRetryableError
	if !errors.As(err, &nr) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
