// Package errors defines the pipeline's error taxonomy and the
// retryable/non-retryable classification used by the batch submitter.
package errors

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrMalformedDocument marks input validation failures: the orchestrator
	// cannot produce any result for the document.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrDuplicateDocument is returned when a document id is already tracked
	// by the enrichment queue. Duplicate enqueues are a no-op, not a fault.
	ErrDuplicateDocument = errors.New("document already enqueued")

	// ErrQueueClosed is returned when work is offered to a queue that has
	// been torn down by its last collector run.
	ErrQueueClosed = errors.New("enrichment queue closed")

	// ErrCancelled marks work discarded by an explicit cancellation.
	ErrCancelled = errors.New("enrichment cancelled")

	// ErrUnknownPlaceholder marks a {IMG:<id>} token whose id has no matching
	// image attachment. This is a collector contract violation and is
	// surfaced, never silently dropped.
	ErrUnknownPlaceholder = errors.New("placeholder references unknown image")

	// ErrCapabilityUnavailable marks a capability call that could not be
	// made at all (service disabled mid-flight or endpoint unreachable).
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrSubmissionRejected marks a non-retryable rejection from the remote
	// ingestion boundary.
	ErrSubmissionRejected = errors.New("submission rejected")
)

// Retryer is implemented by errors that carry their own retryability
// classification, such as the ingest client's batch errors.
type Retryer interface {
	Retryable() bool
}

// Retryable reports whether err represents a transient failure worth
// retrying as a unit. Transport-level failures and timeouts count as
// transient; everything else defaults to permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var r Retryer
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// RetryableStatus classifies an HTTP status code from the ingestion boundary.
// Server-side and throttling failures most likely affect a whole chunk
// equally; client errors are likely document-specific.
func RetryableStatus(code int) bool {
	return code >= 500 || code == 429 || code == 408
}
