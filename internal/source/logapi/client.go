// Package logapi queries the paginated contract-event HTTP API.
package logapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/devblac/comet-liquidator/internal/source"
	"golang.org/x/time/rate"
)

var _ source.LogSource = (*Client)(nil)

// Config holds the client settings.
type Config struct {
	// BaseURL is the events endpoint, e.g. https://host/api/events/contract.
	BaseURL string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Logger    *slog.Logger
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client performs single-attempt page requests; retries belong to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds an event API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("event api url required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse event api url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     cfg.Logger.With("component", "logapi"),
	}, nil
}

// response mirrors the API payload:
//
//	{"data":[{"log":{"topics":["fa56..","..",".."]},"block_number":123}],"total":42}
type response struct {
	Data []struct {
		BlockNumber uint64 `json:"block_number"`
		Log         struct {
			Topics []string `json:"topics"`
		} `json:"log"`
	} `json:"data"`
	Total int `json:"total"`
}

// FetchLogs issues one GET for the page described by q.
func (c *Client) FetchLogs(ctx context.Context, q source.Query) (source.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return source.Page{}, source.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return source.Page{}, source.Permanent(fmt.Errorf("parse url: %w", err))
	}
	params := u.Query()
	params.Set("logAddress", q.LogAddress)
	params.Set("topic", q.Topic)
	params.Set("start", strconv.Itoa(q.Start))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("count", strconv.FormatBool(q.Count))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return source.Page{}, source.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return source.Page{}, fmt.Errorf("get events: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return source.Page{}, fmt.Errorf("read response: %w", err)
	}

	// Any non-2xx is treated as transient; the ingestor's backoff caps it.
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return source.Page{}, fmt.Errorf("rate limited (HTTP 429)")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return source.Page{}, fmt.Errorf("event api status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return source.Page{}, source.Permanent(fmt.Errorf("decode events: %w", err))
	}

	page := source.Page{
		Records: make([]source.Record, 0, len(parsed.Data)),
		Total:   parsed.Total,
	}
	for _, d := range parsed.Data {
		page.Records = append(page.Records, source.Record{
			Topics: d.Log.Topics,
			Cursor: d.BlockNumber,
		})
	}
	return page, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
