package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/lifearchive/enrichment-pipeline/pkg/config"
	apperrors "github.com/lifearchive/enrichment-pipeline/pkg/errors"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
	"github.com/lifearchive/enrichment-pipeline/pkg/metrics"
	"github.com/lifearchive/enrichment-pipeline/pkg/resilience"
)

// DocResult is the per-document detail an ingestion response may carry on
// partial failure.
type DocResult struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the boundary conclusively rejected this document.
func (r DocResult) Failed() bool {
	return r.Status == "failed" || r.Status == "rejected" || r.Status == "error"
}

// RequestError is a failed ingestion request with its retryability
// classification and any per-document detail the response carried.
type RequestError struct {
	Op         string
	StatusCode int
	Transient  bool
	Detail     string
	Results    []DocResult
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
}

// Retryable implements the pipeline's retryability classification.
func (e *RequestError) Retryable() bool {
	return e.Transient
}

// Client talks to the remote ingestion boundary. The batch endpoint is
// preferred; the single-document endpoint is the fallback used to isolate
// bad documents out of a rejected chunk.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates an ingestion client guarded by a circuit breaker.
func NewClient(cfg config.SubmitterConfig, m *metrics.Metrics) *Client {
	var onState func(resilience.State)
	if m != nil {
		onState = func(s resilience.State) {
			m.CircuitBreakerState.WithLabelValues("ingest").Set(float64(s))
		}
	}
	return &Client{
		baseURL: cfg.IngestURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: resilience.NewCircuitBreaker("ingest", resilience.CircuitBreakerConfig{
			OnStateChange: onState,
		}),
		logger: logger.WithComponent("ingest-client"),
	}
}

// SubmitBatch sends one chunk to the batch endpoint. A non-nil error is
// always a *RequestError (possibly wrapped), so callers can classify it and
// read per-document detail.
func (c *Client) SubmitBatch(ctx context.Context, payloads []Payload) error {
	body := struct {
		Documents []Payload `json:"documents"`
	}{payloads}
	return c.post(ctx, "batch ingest", "/api/v1/ingest/batch", body, "")
}

// SubmitOne sends a single document to the fallback endpoint, carrying its
// idempotency key as a header as well.
func (c *Client) SubmitOne(ctx context.Context, p Payload) error {
	return c.post(ctx, "single ingest", "/api/v1/ingest", p, p.IdempotencyKey)
}

func (c *Client) post(ctx context.Context, op, path string, body any, idempotencyKey string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &RequestError{Op: op, Detail: fmt.Sprintf("encoding request: %v", err)}
	}
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return &RequestError{Op: op, Detail: err.Error()}
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Transport failures most likely affect the whole chunk equally.
			return &RequestError{Op: op, Transient: true, Detail: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			io.Copy(io.Discard, resp.Body)
			return nil
		}

		reqErr := &RequestError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  apperrors.RetryableStatus(resp.StatusCode),
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var parsed struct {
			Error   string      `json:"error"`
			Results []DocResult `json:"results"`
		}
		if json.Unmarshal(raw, &parsed) == nil {
			reqErr.Detail = parsed.Error
			reqErr.Results = parsed.Results
		}
		if reqErr.Detail == "" {
			reqErr.Detail = string(bytes.TrimSpace(raw))
		}
		return reqErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// The breaker recovers on its own; the failure is transient.
		return &RequestError{Op: op, Transient: true, Detail: err.Error()}
	}
	return err
}
