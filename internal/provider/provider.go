// Package provider holds the delivery backend adapters.
//
// Both adapters satisfy the same contract: Send never returns an error and
// never panics past its boundary; every provider or network failure is
// folded into Result{OK: false}. That keeps the dispatch coordinator's
// handling uniform regardless of backend, and guarantees one bad recipient
// can never abort a batch.
package provider

import (
	"context"
	"errors"
)

// ErrMissingSender means the backend has no usable sender identity for the
// requested channel. It is detected before dispatch and fails the whole
// request, never a single recipient.
var ErrMissingSender = errors.New("sender identity not configured")

// Result is the terminal outcome for one recipient. Info carries the
// provider message id on success and the error text on failure.
type Result struct {
	To   string `json:"to"`
	OK   bool   `json:"ok"`
	Info string `json:"info"`
}

type Sender interface {
	// Send delivers one message. It must not block past its own timeout
	// and must not return until it has a terminal Result.
	Send(ctx context.Context, to, message string) Result

	// Name identifies the backend in responses and audit logs.
	Name() string
}
