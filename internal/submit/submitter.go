package submit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/lifearchive/enrichment-pipeline/pkg/errors"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
	"github.com/lifearchive/enrichment-pipeline/pkg/metrics"
	"github.com/lifearchive/enrichment-pipeline/pkg/resilience"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
)

// Stats are the mutable submission counters for one collector run.
type Stats struct {
	SubmittedCount int `json:"submitted_count"`
	ErrorCount     int `json:"error_count"`
}

// Sender delivers payloads to the remote ingestion boundary.
type Sender interface {
	SubmitBatch(ctx context.Context, payloads []Payload) error
	SubmitOne(ctx context.Context, p Payload) error
}

// FailureSink records documents that permanently failed submission, so no
// document is ever silently lost. Implemented by the dead-letter store.
type FailureSink interface {
	Record(ctx context.Context, p Payload, reason string) error
}

// Config controls batching and the chunk-level retry budget.
type Config struct {
	BatchSize  int
	MaxRetries int
}

// Submitter buffers enriched, rewritten documents and flushes them in
// bounded chunks. The buffer and counters are owned exclusively by the
// Submitter; no lock is held across a network call.
type Submitter struct {
	cfg        Config
	sender     Sender
	dedupe     *DedupeCache
	deadLetter FailureSink
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	buffer []Payload
	stats  Stats
}

// New creates a Submitter. dedupe and deadLetter are optional.
func New(cfg Config, sender Sender, dedupe *DedupeCache, deadLetter FailureSink, m *metrics.Metrics) *Submitter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Submitter{
		cfg:        cfg,
		sender:     sender,
		dedupe:     dedupe,
		deadLetter: deadLetter,
		logger:     logger.WithComponent("batch-submitter"),
		metrics:    m,
	}
}

// Submit buffers one document, flushing automatically whenever a full
// batch-size chunk accumulates.
func (s *Submitter) Submit(ctx context.Context, doc *document.EnrichedDocument) error {
	return s.SubmitBatch(ctx, []*document.EnrichedDocument{doc})
}

// SubmitBatch buffers multiple documents, flushing full-size chunks and
// retaining any remainder below the threshold.
func (s *Submitter) SubmitBatch(ctx context.Context, docs []*document.EnrichedDocument) error {
	s.mu.Lock()
	for _, doc := range docs {
		s.buffer = append(s.buffer, NewPayload(doc))
	}
	chunks := s.takeChunksLocked(false)
	s.mu.Unlock()

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.sendChunk(ctx, chunk)
	}
	return nil
}

// Flush force-sends everything currently buffered, in batch-size chunks,
// and returns the updated counters.
func (s *Submitter) Flush(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	chunks := s.takeChunksLocked(true)
	s.mu.Unlock()

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return s.GetStats(), err
		}
		s.sendChunk(ctx, chunk)
	}
	return s.GetStats(), nil
}

// Finish flushes the remaining buffer and logs the run summary. Call exactly
// once per collector run.
func (s *Submitter) Finish(ctx context.Context) (Stats, error) {
	stats, err := s.Flush(ctx)
	s.logger.Info("submission run finished",
		"submitted", stats.SubmittedCount,
		"errors", stats.ErrorCount,
	)
	return stats, err
}

// GetStats reads the current counters without side effects.
func (s *Submitter) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset clears the buffer and counters, starting a new run's accounting.
func (s *Submitter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
	s.stats = Stats{}
}

// BufferLen returns the number of documents awaiting flush.
func (s *Submitter) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// takeChunksLocked carves batch-size chunks off the buffer. With remainder
// set, the final partial chunk is taken too.
func (s *Submitter) takeChunksLocked(remainder bool) [][]Payload {
	var chunks [][]Payload
	for len(s.buffer) >= s.cfg.BatchSize {
		chunks = append(chunks, s.buffer[:s.cfg.BatchSize:s.cfg.BatchSize])
		s.buffer = s.buffer[s.cfg.BatchSize:]
	}
	if remainder && len(s.buffer) > 0 {
		chunks = append(chunks, s.buffer)
		s.buffer = nil
	}
	return chunks
}

// sendChunk delivers one chunk: a single batched request first, retried as a
// unit for transient failures; for permanent rejections it extracts any
// per-document detail and falls back to individual submission for documents
// not conclusively failed.
func (s *Submitter) sendChunk(ctx context.Context, chunk []Payload) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.BatchFlushDuration.Observe(time.Since(start).Seconds())
		}
	}()

	chunk = s.filterSeen(ctx, chunk)
	if len(chunk) == 0 {
		return
	}

	attempt := 0
	err := resilience.Retry(ctx, "batch-ingest", resilience.RetryConfig{
		MaxAttempts: s.cfg.MaxRetries,
		RetryIf:     apperrors.Retryable,
	}, func() error {
		attempt++
		if attempt > 1 && s.metrics != nil {
			s.metrics.BatchRetriesTotal.Inc()
		}
		return s.sender.SubmitBatch(ctx, chunk)
	})
	if err == nil {
		s.recordSubmitted(ctx, chunk)
		s.logger.Debug("chunk submitted", "documents", len(chunk))
		return
	}

	if apperrors.Retryable(err) {
		// Transient failure that survived the whole retry budget: the chunk
		// is permanently lost to this run.
		s.logger.Error("chunk failed after retries", "documents", len(chunk), "error", err)
		s.recordFailed(ctx, chunk, err.Error())
		return
	}

	s.fallbackIndividual(ctx, chunk, err)
}

// fallbackIndividual handles a non-retryable batch rejection. Documents the
// response conclusively reports as failed are counted as errors; everything
// else, including all of them when no per-document detail is available, is
// resubmitted one request at a time, with no further retry.
func (s *Submitter) fallbackIndividual(ctx context.Context, chunk []Payload, batchErr error) {
	failed := make(map[string]string)
	var reqErr *RequestError
	if errors.As(batchErr, &reqErr) {
		for _, r := range reqErr.Results {
			if r.Failed() {
				failed[r.ExternalID] = r.Error
			}
		}
	}
	s.logger.Warn("batch rejected, falling back to individual submission",
		"documents", len(chunk),
		"conclusively_failed", len(failed),
		"error", batchErr,
	)

	for _, p := range chunk {
		if reason, ok := failed[p.ExternalID]; ok {
			s.recordFailed(ctx, []Payload{p}, reason)
			continue
		}
		if err := s.sender.SubmitOne(ctx, p); err != nil {
			s.logger.Error("document permanently failed submission",
				"source_type", p.SourceType,
				"external_id", p.ExternalID,
				"error", err,
			)
			s.recordFailed(ctx, []Payload{p}, err.Error())
			continue
		}
		s.recordSubmitted(ctx, []Payload{p})
	}
}

// filterSeen drops payloads whose idempotency key is already recorded as
// accepted. Skipped documents count as submitted: the boundary has them.
func (s *Submitter) filterSeen(ctx context.Context, chunk []Payload) []Payload {
	if s.dedupe == nil {
		return chunk
	}
	kept := chunk[:0:len(chunk)]
	skipped := 0
	for _, p := range chunk {
		if s.dedupe.Seen(ctx, p.IdempotencyKey) {
			skipped++
			continue
		}
		kept = append(kept, p)
	}
	if skipped > 0 {
		s.mu.Lock()
		s.stats.SubmittedCount += skipped
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.DedupeSkipsTotal.Add(float64(skipped))
		}
		s.logger.Debug("skipped already-accepted documents", "count", skipped)
	}
	return kept
}

func (s *Submitter) recordSubmitted(ctx context.Context, payloads []Payload) {
	s.mu.Lock()
	s.stats.SubmittedCount += len(payloads)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.DocumentsSubmitted.Add(float64(len(payloads)))
	}
	if s.dedupe != nil {
		for _, p := range payloads {
			s.dedupe.Mark(ctx, p.IdempotencyKey)
		}
	}
}

func (s *Submitter) recordFailed(ctx context.Context, payloads []Payload, reason string) {
	s.mu.Lock()
	s.stats.ErrorCount += len(payloads)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SubmissionErrors.Add(float64(len(payloads)))
	}
	if s.deadLetter == nil {
		return
	}
	for _, p := range payloads {
		if err := s.deadLetter.Record(ctx, p, reason); err != nil {
			s.logger.Error("dead-letter write failed",
				"external_id", p.ExternalID,
				"error", err,
			)
		}
	}
}
