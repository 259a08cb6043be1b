package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
)

type enricherFunc func(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error)

func (f enricherFunc) Enrich(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
	return f(ctx, doc)
}

func passthrough() Enricher {
	return enricherFunc(func(_ context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
		return &document.EnrichedDocument{
			Base:             *doc,
			ImageEnrichments: make([]*document.ImageEnrichment, len(doc.Images)),
		}, nil
	})
}

func lightDoc(id string) *document.CollectorDocument {
	return &document.CollectorDocument{SourceType: "test", ExternalID: id, Content: "text"}
}

func imageDoc(id string) *document.CollectorDocument {
	return &document.CollectorDocument{
		SourceType: "test",
		ExternalID: id,
		Content:    "text {IMG:x}",
		Images:     []document.ImageAttachment{{ID: "x"}},
	}
}

func waitFor(t *testing.T, q *Queue, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.WaitFor(ctx, id); err != nil {
		t.Fatalf("waiting for %s: %v", id, err)
	}
}

func TestEnqueueAndComplete(t *testing.T) {
	q := New(Config{NormalWorkers: 1}, passthrough(), nil)
	defer q.Close()

	got := make(chan *document.EnrichedDocument, 1)
	ok := q.Enqueue(lightDoc("d1"), "d1", func(_ string, enriched *document.EnrichedDocument) {
		got <- enriched
	})
	if !ok {
		t.Fatal("enqueue rejected")
	}

	select {
	case enriched := <-got:
		if enriched == nil {
			t.Fatal("expected a result, got nil")
		}
		if enriched.Base.ExternalID != "d1" {
			t.Errorf("wrong document: %s", enriched.Base.ExternalID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestDuplicateEnqueueIgnored(t *testing.T) {
	block := make(chan struct{})
	q := New(Config{NormalWorkers: 1}, enricherFunc(func(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return &document.EnrichedDocument{Base: *doc}, nil
	}), nil)
	defer q.Close()
	defer close(block)

	if !q.Enqueue(lightDoc("d1"), "d1", nil) {
		t.Fatal("first enqueue rejected")
	}
	if q.Enqueue(lightDoc("d1"), "d1", nil) {
		t.Error("duplicate enqueue accepted while first is in flight")
	}
}

func TestWaitForUnknownIDReturnsImmediately(t *testing.T) {
	q := New(Config{NormalWorkers: 1}, passthrough(), nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.WaitFor(ctx, "never-enqueued"); err != nil {
		t.Fatalf("expected nil for unknown id, got %v", err)
	}
}

func TestCancelWaitingSkipsCallback(t *testing.T) {
	block := make(chan struct{})
	q := New(Config{NormalWorkers: 1}, enricherFunc(func(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
		if doc.ExternalID == "blocker" {
			select {
			case <-block:
			case <-ctx.Done():
			}
		}
		return &document.EnrichedDocument{Base: *doc}, nil
	}), nil)
	defer q.Close()

	q.Enqueue(lightDoc("blocker"), "blocker", nil)

	var fired atomic.Bool
	q.Enqueue(lightDoc("victim"), "victim", func(string, *document.EnrichedDocument) {
		fired.Store(true)
	})
	// Give the worker time to claim the blocker so the victim stays queued.
	time.Sleep(50 * time.Millisecond)

	q.Cancel("victim")
	waitFor(t, q, "victim")

	close(block)
	waitFor(t, q, "blocker")
	time.Sleep(50 * time.Millisecond)

	if fired.Load() {
		t.Error("cancelled document received a completion callback")
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d tracked", q.Len())
	}
}

func TestCancelRunningDiscardsResult(t *testing.T) {
	started := make(chan struct{})
	q := New(Config{NormalWorkers: 1}, enricherFunc(func(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
		close(started)
		<-ctx.Done()
		return &document.EnrichedDocument{Base: *doc}, nil
	}), nil)
	defer q.Close()

	var fired atomic.Bool
	q.Enqueue(lightDoc("d1"), "d1", func(string, *document.EnrichedDocument) {
		fired.Store(true)
	})

	<-started
	q.Cancel("d1")
	waitFor(t, q, "d1")
	time.Sleep(50 * time.Millisecond)

	if fired.Load() {
		t.Error("cancelled in-flight document received a completion callback")
	}
}

func TestRetryUntilPermanentFailure(t *testing.T) {
	var attempts atomic.Int32
	q := New(Config{NormalWorkers: 1, MaxRetries: 3}, enricherFunc(func(_ context.Context, _ *document.CollectorDocument) (*document.EnrichedDocument, error) {
		attempts.Add(1)
		return nil, errors.New("capability down")
	}), nil)
	defer q.Close()

	got := make(chan *document.EnrichedDocument, 1)
	q.Enqueue(lightDoc("d1"), "d1", func(_ string, enriched *document.EnrichedDocument) {
		got <- enriched
	})

	select {
	case enriched := <-got:
		if enriched != nil {
			t.Error("permanent failure should deliver nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback never fired")
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	q := New(Config{NormalWorkers: 1, MaxRetries: 3}, enricherFunc(func(_ context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return &document.EnrichedDocument{Base: *doc}, nil
	}), nil)
	defer q.Close()

	got := make(chan *document.EnrichedDocument, 1)
	q.Enqueue(lightDoc("d1"), "d1", func(_ string, enriched *document.EnrichedDocument) {
		got <- enriched
	})

	select {
	case enriched := <-got:
		if enriched == nil {
			t.Fatal("expected success on second attempt")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback never fired")
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

// TestNoAttachmentPoolAvoidsStarvation pins the normal worker on a slow
// image-bearing document and verifies that image-free documents still flow
// through the dedicated pool.
func TestNoAttachmentPoolAvoidsStarvation(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string

	q := New(Config{
		NormalWorkers:       1,
		NoAttachmentWorkers: 1,
		NoAttachmentEnabled: true,
	}, enricherFunc(func(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
		if doc.HasImages() {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		mu.Lock()
		order = append(order, doc.ExternalID)
		mu.Unlock()
		return &document.EnrichedDocument{Base: *doc}, nil
	}), nil)
	defer q.Close()

	q.Enqueue(imageDoc("slow"), "slow", nil)
	lightIDs := []string{"l1", "l2", "l3", "l4", "l5"}
	for _, id := range lightIDs {
		q.Enqueue(lightDoc(id), id, nil)
	}

	for _, id := range lightIDs {
		waitFor(t, q, id)
	}
	close(release)
	waitFor(t, q, "slow")

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 6 {
		t.Fatalf("expected 6 completions, got %d", len(order))
	}
	if order[len(order)-1] != "slow" {
		t.Errorf("slow image document should finish last, order: %v", order)
	}
}

func TestNormalWorkersServeLightDocsWhenPoolDisabled(t *testing.T) {
	q := New(Config{NormalWorkers: 2, NoAttachmentEnabled: false}, passthrough(), nil)
	defer q.Close()

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(lightDoc(id), id, nil)
	}
	for _, id := range []string{"a", "b", "c"} {
		waitFor(t, q, id)
	}
}

func TestCloseRejectsEnqueue(t *testing.T) {
	q := New(Config{NormalWorkers: 1}, passthrough(), nil)
	q.Close()

	if q.Enqueue(lightDoc("late"), "late", nil) {
		t.Error("closed queue accepted a document")
	}
}

func TestCancelAll(t *testing.T) {
	block := make(chan struct{})
	q := New(Config{NormalWorkers: 1}, enricherFunc(func(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return &document.EnrichedDocument{Base: *doc}, nil
	}), nil)
	defer q.Close()
	defer close(block)

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(lightDoc(id), id, nil)
	}
	q.CancelAll()
	for _, id := range []string{"a", "b", "c"} {
		waitFor(t, q, id)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after CancelAll, got %d", q.Len())
	}
}
