// Package notify posts settled liquidation attempts to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/comet-liquidator/internal/execution"
	"github.com/ethereum/go-ethereum/common"
)

const defaultTemplate = `{{.Strategy}} liquidation {{.Outcome}}: {{len .Targets}} account(s){{if .TxHash}} tx {{short_hash .TxHash}}{{end}}{{if .Reason}} ({{.Reason}}){{end}}`

// Payload is the template data for one attempt.
type Payload struct {
	Strategy     string
	Outcome      string
	TxHash       string
	Targets      []string
	Reason       string
	PrimaryError string
	FinishedAt   time.Time
}

// FromAttempt flattens an attempt for rendering.
func FromAttempt(att execution.Attempt) Payload {
	p := Payload{
		Strategy:   string(att.Strategy),
		Outcome:    string(att.Outcome),
		Reason:     att.Reason(),
		Targets:    make([]string, 0, len(att.Targets)),
		FinishedAt: att.FinishedAt,
	}
	if att.TxHash != (common.Hash{}) {
		p.TxHash = att.TxHash.Hex()
	}
	if att.PrimaryErr != nil {
		p.PrimaryError = att.PrimaryErr.Error()
	}
	for _, t := range att.Targets {
		p.Targets = append(p.Targets, t.Hex())
	}
	return p
}

type Sender interface {
	Send(ctx context.Context, payload Payload) error
}

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string
}

// NewWebhookSender builds a generic HTTP sink that posts {"text": ...}.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &httpSender{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  &http.Client{Timeout: 8 * time.Second},
		headers: headers,
	}, nil
}

// NewSlackSender builds a Slack incoming-webhook sink.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
}

// NewTeamsSender builds a Teams incoming-webhook sink.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	return NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
}

func (s *httpSender) Send(ctx context.Context, payload Payload) error {
	var buf bytes.Buffer
	if err := s.render.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	reqBody, err := json.Marshal(map[string]string{"text": buf.String()})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook http status %d", resp.StatusCode)
	}
	return nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	funcs := template.FuncMap{
		"join": strings.Join,
		"short_hash": func(h string) string {
			if len(h) <= 12 {
				return h
			}
			return h[:8] + "..." + h[len(h)-4:]
		},
	}
	t, err := template.New("msg").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

// Notifier fans an attempt out to every sender.
type Notifier struct {
	senders      []Sender
	onlyFailures bool
}

// NewNotifier returns nil when there are no senders.
func NewNotifier(senders []Sender, onlyFailures bool) *Notifier {
	if len(senders) == 0 {
		return nil
	}
	return &Notifier{senders: senders, onlyFailures: onlyFailures}
}

// Notify sends att to every sender and joins their errors.
func (n *Notifier) Notify(ctx context.Context, att execution.Attempt) error {
	if n == nil {
		return nil
	}
	if n.onlyFailures && att.Outcome == execution.Success {
		return nil
	}
	payload := FromAttempt(att)
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
