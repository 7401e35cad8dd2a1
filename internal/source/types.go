// Package source defines the paginated log-query contract shared by the
// HTTP event API client and the RPC log source.
package source

import "context"

// Query selects one page of logs for a contract and event topic.
type Query struct {
	LogAddress string
	Topic      string
	Start      int
	Limit      int
	Count      bool
}

// Record is one observed log. Topics are hex words in emission order:
// topic 0 is the event signature, topic 2 the affected account.
type Record struct {
	Topics []string
	Cursor uint64
}

// Page is the result of one query.
type Page struct {
	Records []Record
	Total   int
}

// LogSource fetches a single page of logs.
type LogSource interface {
	FetchLogs(ctx context.Context, q Query) (Page, error)
}

// NonRetryableError marks failures that retrying the same request cannot fix.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}
