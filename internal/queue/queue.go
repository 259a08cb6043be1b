// Package queue implements the enrichment queue: two bounded worker pools, a
// FIFO waiting buffer, and per-document task tracking. Documents with images
// are only eligible for the normal pool; image-free documents prefer the
// dedicated no-attachment pool so a backlog of slow image work never starves
// lightweight documents.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	apperrors "github.com/lifearchive/enrichment-pipeline/pkg/errors"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
	"github.com/lifearchive/enrichment-pipeline/pkg/metrics"
)

// WorkerType identifies which pool claimed a document. Assigned once at
// claim time, immutable afterwards, used only for bookkeeping and metrics.
type WorkerType int

const (
	WorkerNormal WorkerType = iota
	WorkerNoAttachment
)

func (w WorkerType) String() string {
	if w == WorkerNoAttachment {
		return "no_attachment"
	}
	return "normal"
}

// Enricher produces an enriched document; implemented by the orchestrator.
type Enricher interface {
	Enrich(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error)
}

// CompletionFunc is invoked exactly once per non-cancelled document: with the
// result on success, with nil on permanent failure. It runs on its own
// goroutine and never blocks a worker.
type CompletionFunc func(id string, enriched *document.EnrichedDocument)

// Config controls pool sizes and the enrichment retry limit.
type Config struct {
	NormalWorkers       int
	NoAttachmentWorkers int
	NoAttachmentEnabled bool
	// MaxRetries is the total number of enrichment attempts per document
	// before it is reported failed.
	MaxRetries int
}

type task struct {
	id         string
	doc        *document.CollectorDocument
	onComplete CompletionFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	running    bool
	cancelled  bool
	attempts   int
	workerType WorkerType
	enqueued   time.Time
}

// Queue owns the task map and waiting buffer; both are mutated only under
// its mutex, and no lock is held across an enrichment call.
type Queue struct {
	cfg      Config
	enricher Enricher
	logger   *slog.Logger
	metrics  *metrics.Metrics

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	tasks   map[string]*task
	waiting []*task

	normalWake chan struct{}
	lightWake  chan struct{}
}

// New creates the queue and starts its worker loops. Defaults: 1 normal
// worker, 1 no-attachment worker, 3 enrichment attempts.
func New(cfg Config, enricher Enricher, m *metrics.Metrics) *Queue {
	if cfg.NormalWorkers <= 0 {
		cfg.NormalWorkers = 1
	}
	if cfg.NoAttachmentEnabled && cfg.NoAttachmentWorkers <= 0 {
		cfg.NoAttachmentWorkers = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:        cfg,
		enricher:   enricher,
		logger:     logger.WithComponent("enrichment-queue"),
		metrics:    m,
		baseCtx:    ctx,
		stop:       cancel,
		tasks:      make(map[string]*task),
		normalWake: make(chan struct{}, cfg.NormalWorkers),
	}
	for i := 0; i < cfg.NormalWorkers; i++ {
		q.wg.Add(1)
		go q.worker(WorkerNormal, q.normalWake)
	}
	if cfg.NoAttachmentEnabled {
		q.lightWake = make(chan struct{}, cfg.NoAttachmentWorkers)
		for i := 0; i < cfg.NoAttachmentWorkers; i++ {
			q.wg.Add(1)
			go q.worker(WorkerNoAttachment, q.lightWake)
		}
	}
	q.logger.Info("queue started",
		"normal_workers", cfg.NormalWorkers,
		"no_attachment_workers", cfg.NoAttachmentWorkers,
		"no_attachment_enabled", cfg.NoAttachmentEnabled,
	)
	return q
}

// Enqueue registers a document for enrichment and returns immediately. It
// returns false if id is already tracked: at most one enrichment per id is
// in flight, and a duplicate enqueue is a no-op, not an error.
func (q *Queue) Enqueue(doc *document.CollectorDocument, id string, onComplete CompletionFunc) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("enqueue on closed queue", "id", id, "error", apperrors.ErrQueueClosed)
		return false
	}
	if _, exists := q.tasks[id]; exists {
		q.mu.Unlock()
		q.logger.Debug("duplicate enqueue ignored", "id", id)
		return false
	}
	ctx, cancel := context.WithCancel(q.baseCtx)
	t := &task{
		id:         id,
		doc:        doc,
		onComplete: onComplete,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		enqueued:   time.Now(),
	}
	q.tasks[id] = t
	q.waiting = append(q.waiting, t)
	q.observeWaiting()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.DocumentsEnqueued.WithLabelValues(doc.SourceType).Inc()
	}
	q.wake(doc)
	return true
}

// Cancel discards queued or in-flight work for id. An in-flight external
// call may still complete, but its result is discarded and the completion
// callback never fires.
func (q *Queue) Cancel(id string) {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	t.cancelled = true
	t.cancel()
	if !t.running {
		q.removeWaiting(t)
		delete(q.tasks, id)
		close(t.done)
		q.observeWaiting()
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.DocumentsEnriched.WithLabelValues("cancelled").Inc()
		}
		return
	}
	q.mu.Unlock()
}

// CancelAll cancels every tracked document.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	ids := make([]string, 0, len(q.tasks))
	for id := range q.tasks {
		ids = append(ids, id)
	}
	q.mu.Unlock()
	for _, id := range ids {
		q.Cancel(id)
	}
}

// WaitFor blocks until the document with id completes, fails, or is
// cancelled. It waits on the task's done signal and never occupies a worker
// slot, so it cannot deadlock against the pools. An unknown id returns
// immediately.
func (q *Queue) WaitFor(ctx context.Context, id string) error {
	q.mu.Lock()
	t, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tracked documents (waiting plus in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close cancels all remaining work and stops the worker loops. Used by the
// lifecycle handle when the last collector run releases the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.CancelAll()
	q.stop()
	q.wg.Wait()
	q.logger.Info("queue stopped")
}

// wake nudges every pool the document is eligible for. A dropped signal is
// harmless: any awake worker drains the waiting buffer before parking.
func (q *Queue) wake(doc *document.CollectorDocument) {
	if !doc.HasImages() && q.lightWake != nil {
		select {
		case q.lightWake <- struct{}{}:
		default:
		}
	}
	select {
	case q.normalWake <- struct{}{}:
	default:
	}
}

func (q *Queue) worker(wt WorkerType, wakeCh chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case <-q.baseCtx.Done():
			return
		case <-wakeCh:
			for {
				t := q.claim(wt)
				if t == nil {
					break
				}
				q.run(t)
			}
		}
	}
}

// claim pops the first waiting document this pool may serve. Normal workers
// take the oldest document of either class; no-attachment workers skip
// image-bearing documents. Arrival order within each eligibility class is
// preserved.
func (q *Queue) claim(wt WorkerType) *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.waiting {
		if wt == WorkerNoAttachment && t.doc.HasImages() {
			continue
		}
		q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
		t.running = true
		t.workerType = wt
		q.observeWaiting()
		if q.metrics != nil {
			q.metrics.WorkersBusy.WithLabelValues(wt.String()).Inc()
		}
		return t
	}
	return nil
}

// run enriches one claimed document. Enrichment happens outside the queue
// lock; bookkeeping updates reacquire it briefly.
func (q *Queue) run(t *task) {
	defer func() {
		if q.metrics != nil {
			q.metrics.WorkersBusy.WithLabelValues(t.workerType.String()).Dec()
		}
	}()

	if t.ctx.Err() != nil {
		q.finish(t, nil, "cancelled")
		return
	}

	start := time.Now()
	t.attempts++
	enriched, err := q.enricher.Enrich(t.ctx, t.doc)
	if q.metrics != nil {
		q.metrics.EnrichmentDuration.WithLabelValues(t.workerType.String()).Observe(time.Since(start).Seconds())
	}

	// Temporary image byte/path references are only valid during the
	// enrichment step; drop them before anything downstream sees the result.
	t.doc.DropImageData()
	if enriched != nil {
		enriched.Base.DropImageData()
	}

	if t.ctx.Err() != nil {
		q.finish(t, nil, "cancelled")
		return
	}
	if err != nil {
		log := logger.WithDocument(q.logger, t.doc.SourceType, t.doc.ExternalID)
		if t.attempts < q.cfg.MaxRetries {
			log.Warn("enrichment failed, requeueing",
				"attempt", t.attempts,
				"max_attempts", q.cfg.MaxRetries,
				"error", err,
			)
			q.requeue(t)
			return
		}
		log.Error("enrichment failed permanently",
			"attempts", t.attempts,
			"error", err,
		)
		q.finish(t, nil, "failed")
		return
	}
	q.finish(t, enriched, "completed")
}

func (q *Queue) requeue(t *task) {
	q.mu.Lock()
	if t.cancelled || q.closed {
		q.mu.Unlock()
		q.finish(t, nil, "cancelled")
		return
	}
	t.running = false
	q.waiting = append(q.waiting, t)
	q.observeWaiting()
	q.mu.Unlock()
	q.wake(t.doc)
}

// finish delivers the completion callback asynchronously and then removes
// the task from tracking. A cancelled document never gets a callback. The
// done signal fires only after the callback returns, so WaitFor covers
// downstream handling of the result too.
func (q *Queue) finish(t *task, enriched *document.EnrichedDocument, outcome string) {
	q.mu.Lock()
	if _, tracked := q.tasks[t.id]; !tracked {
		// Cancel already tore the task down while it was waiting.
		q.mu.Unlock()
		return
	}
	cancelled := t.cancelled || outcome == "cancelled"
	q.mu.Unlock()

	if cancelled {
		outcome = "cancelled"
	}
	if q.metrics != nil {
		q.metrics.DocumentsEnriched.WithLabelValues(outcome).Inc()
	}
	// Hand off without waiting: submission latency must never block the
	// worker from claiming its next document.
	go func() {
		if !cancelled && t.onComplete != nil {
			t.onComplete(t.id, enriched)
		}
		q.mu.Lock()
		delete(q.tasks, t.id)
		q.mu.Unlock()
		close(t.done)
	}()
}

func (q *Queue) observeWaiting() {
	if q.metrics != nil {
		q.metrics.QueueWaiting.Set(float64(len(q.waiting)))
	}
}

func (q *Queue) removeWaiting(t *task) {
	for i, w := range q.waiting {
		if w == t {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}
