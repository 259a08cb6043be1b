// Package pipeline wires the collector boundary to the enrichment core: it
// consumes collector documents, feeds them through the shared enrichment
// queue, rewrites image placeholders, and hands the results to the batch
// submitter, publishing a per-document completion event along the way.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	"github.com/lifearchive/enrichment-pipeline/internal/queue"
	"github.com/lifearchive/enrichment-pipeline/internal/rewrite"
	"github.com/lifearchive/enrichment-pipeline/internal/submit"
	"github.com/lifearchive/enrichment-pipeline/pkg/kafka"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
)

// Submitter is the slice of the batch submitter the runner needs.
type Submitter interface {
	Submit(ctx context.Context, doc *document.EnrichedDocument) error
	Finish(ctx context.Context) (submit.Stats, error)
	Reset()
}

// EventPublisher publishes per-document completion events; satisfied by the
// Kafka producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Event is the completion record published for every processed document.
type Event struct {
	EventID    string    `json:"event_id"`
	RunID      string    `json:"run_id"`
	SourceType string    `json:"source_type"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	Images     int       `json:"images"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event statuses.
const (
	StatusEnriched = "enriched"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// Config controls one runner.
type Config struct {
	// SkipEnrichment bypasses the queue entirely: documents go straight to
	// the rewriter and submitter. Collectors decide this per instance.
	SkipEnrichment bool
}

// Runner owns one collector run: it retains the shared queue on Start and
// releases it on Stop, so the queue lives exactly as long as at least one
// run is active.
type Runner struct {
	cfg       Config
	handle    *queue.Handle
	submitter Submitter
	events    EventPublisher
	logger    *slog.Logger

	mu      sync.Mutex
	q       *queue.Queue
	runID   string
	baseCtx context.Context
	tracked []string
}

// NewRunner creates a Runner. events is optional.
func NewRunner(cfg Config, handle *queue.Handle, submitter Submitter, events EventPublisher) *Runner {
	return &Runner{
		cfg:       cfg,
		handle:    handle,
		submitter: submitter,
		events:    events,
		logger:    logger.WithComponent("pipeline-runner"),
	}
}

// Start begins a collector run: a fresh run id, fresh submission counters,
// and a reference on the shared queue.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = ulid.Make().String()
	r.baseCtx = logger.WithRunID(ctx, r.runID)
	r.q = r.handle.Retain()
	r.tracked = nil
	r.submitter.Reset()
	r.logger.Info("collector run started", "run_id", r.runID)
}

// Stop waits for every document this run enqueued, finishes the submitter,
// and releases the queue reference.
func (r *Runner) Stop(ctx context.Context) (submit.Stats, error) {
	r.mu.Lock()
	q := r.q
	ids := r.tracked
	runID := r.runID
	r.q = nil
	r.mu.Unlock()
	if q == nil {
		return r.submitter.Finish(ctx)
	}

	for _, id := range ids {
		if err := q.WaitFor(ctx, id); err != nil {
			r.handle.Release()
			return submit.Stats{}, fmt.Errorf("waiting for %s: %w", id, err)
		}
	}
	stats, err := r.submitter.Finish(ctx)
	r.handle.Release()
	r.logger.Info("collector run stopped",
		"run_id", runID,
		"submitted", stats.SubmittedCount,
		"errors", stats.ErrorCount,
	)
	return stats, err
}

// Handler returns the Kafka message handler that decodes collector documents
// and feeds them into the run.
func (r *Runner) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		doc, err := kafka.DecodeJSON[document.CollectorDocument](value)
		if err != nil {
			// A permanently undecodable message would loop forever; drop it.
			r.logger.Error("dropping undecodable document", "key", string(key), "error", err)
			return nil
		}
		return r.Process(&doc)
	}
}

// Process routes one document: through the enrichment queue normally, or
// straight to the submitter when this run skips enrichment.
func (r *Runner) Process(doc *document.CollectorDocument) error {
	r.mu.Lock()
	q := r.q
	ctx := r.baseCtx
	r.mu.Unlock()
	if q == nil {
		return fmt.Errorf("runner not started")
	}

	if r.cfg.SkipEnrichment {
		r.submitDirect(ctx, doc)
		return nil
	}

	id := doc.SourceType + ":" + doc.ExternalID
	if !q.Enqueue(doc, id, r.onComplete) {
		r.logger.Debug("document already in flight", "id", id)
		return nil
	}
	r.mu.Lock()
	r.tracked = append(r.tracked, id)
	r.mu.Unlock()
	return nil
}

// onComplete receives the queue's result: the enriched document, or nil for
// a permanent enrichment failure. It runs off the worker goroutines.
func (r *Runner) onComplete(id string, enriched *document.EnrichedDocument) {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if enriched == nil {
		r.logger.Error("document failed enrichment", "id", id)
		r.publish(ctx, id, nil, StatusFailed)
		return
	}

	text, err := rewrite.Rewrite(enriched)
	if err != nil {
		// Collector contract violation; surface it, don't submit mangled text.
		logger.WithDocument(r.logger, enriched.Base.SourceType, enriched.Base.ExternalID).
			Error("placeholder rewrite failed", "error", err)
		r.publish(ctx, id, enriched, StatusFailed)
		return
	}
	enriched.Base.Content = text

	if err := r.submitter.Submit(ctx, enriched); err != nil {
		logger.WithDocument(r.logger, enriched.Base.SourceType, enriched.Base.ExternalID).
			Error("submit failed", "error", err)
	}
	r.publish(ctx, id, enriched, StatusEnriched)
}

// submitDirect bypasses enrichment: placeholders are still rewritten (with
// "No caption" slugs) so the submitted text never carries raw tokens.
func (r *Runner) submitDirect(ctx context.Context, doc *document.CollectorDocument) {
	enriched := &document.EnrichedDocument{
		Base:             *doc,
		ImageEnrichments: make([]*document.ImageEnrichment, len(doc.Images)),
	}
	enriched.Base.DropImageData()
	text, err := rewrite.Rewrite(enriched)
	if err != nil {
		logger.WithDocument(r.logger, doc.SourceType, doc.ExternalID).
			Error("placeholder rewrite failed", "error", err)
		r.publish(ctx, doc.SourceType+":"+doc.ExternalID, enriched, StatusFailed)
		return
	}
	enriched.Base.Content = text
	if err := r.submitter.Submit(ctx, enriched); err != nil {
		logger.WithDocument(r.logger, doc.SourceType, doc.ExternalID).
			Error("submit failed", "error", err)
	}
	r.publish(ctx, doc.SourceType+":"+doc.ExternalID, enriched, StatusSkipped)
}

func (r *Runner) publish(ctx context.Context, id string, enriched *document.EnrichedDocument, status string) {
	if r.events == nil {
		return
	}
	event := Event{
		EventID:   ulid.Make().String(),
		RunID:     r.runID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if enriched != nil {
		event.SourceType = enriched.Base.SourceType
		event.ExternalID = enriched.Base.ExternalID
		event.Images = len(enriched.Base.Images)
	}
	if err := r.events.Publish(ctx, kafka.Event{Key: id, Value: event}); err != nil {
		r.logger.Warn("event publish failed", "id", id, "error", err)
	}
}
