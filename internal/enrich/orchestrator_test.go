package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	apperrors "github.com/lifearchive/enrichment-pipeline/pkg/errors"
)

type fakeRecognizer struct {
	mu    sync.Mutex
	texts map[string]string
	fail  map[string]bool
	calls int
}

func (f *fakeRecognizer) RecognizeText(_ context.Context, img document.ImageAttachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[img.ID] {
		return "", errors.New("ocr backend unavailable")
	}
	return f.texts[img.ID], nil
}

type fakeFaceDetector struct {
	counts map[string]int
}

func (f *fakeFaceDetector) DetectFaces(_ context.Context, img document.ImageAttachment) (*document.FaceDetection, error) {
	n, ok := f.counts[img.ID]
	if !ok {
		return nil, errors.New("vision backend unavailable")
	}
	return &document.FaceDetection{Count: n}, nil
}

type fakeCaptioner struct {
	captions map[string]string
}

func (f *fakeCaptioner) Caption(_ context.Context, img document.ImageAttachment) (string, error) {
	return f.captions[img.ID], nil
}

type fakeEntityExtractor struct {
	mu       sync.Mutex
	received []string
	entities []document.Entity
	err      error
}

func (f *fakeEntityExtractor) ExtractEntities(_ context.Context, text string) ([]document.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, text)
	return f.entities, f.err
}

func testDoc(images ...document.ImageAttachment) *document.CollectorDocument {
	return &document.CollectorDocument{
		SourceType: "gmail",
		ExternalID: "msg-1",
		Content:    "dinner with Alice next week",
		Images:     images,
	}
}

func TestEnrichIndexAlignment(t *testing.T) {
	images := []document.ImageAttachment{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	o := New(Options{
		Recognizer: &fakeRecognizer{texts: map[string]string{
			"a": "text a", "b": "text b", "c": "text c",
		}},
		ImageParallelism: 2,
	})

	enriched, err := o.Enrich(context.Background(), testDoc(images...))
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if len(enriched.ImageEnrichments) != len(images) {
		t.Fatalf("expected %d enrichments, got %d", len(images), len(enriched.ImageEnrichments))
	}
	for i, img := range images {
		ie := enriched.ImageEnrichments[i]
		if ie == nil {
			t.Fatalf("enrichment %d is nil", i)
		}
		want := "text " + img.ID
		if ie.RecognizedText == nil || *ie.RecognizedText != want {
			t.Errorf("enrichment %d: expected %q, got %v", i, want, ie.RecognizedText)
		}
	}
}

func TestEnrichPartialFailureIsolated(t *testing.T) {
	o := New(Options{
		Recognizer: &fakeRecognizer{
			texts: map[string]string{"ok": "visible text"},
			fail:  map[string]bool{"bad": true},
		},
		Faces: &fakeFaceDetector{counts: map[string]int{"ok": 2, "bad": 1}},
	})

	enriched, err := o.Enrich(context.Background(), testDoc(
		document.ImageAttachment{ID: "bad"},
		document.ImageAttachment{ID: "ok"},
	))
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}

	bad := enriched.ImageEnrichments[0]
	if bad.RecognizedText != nil {
		t.Error("failed recognition should leave result absent")
	}
	if bad.Faces == nil || bad.Faces.Count != 1 {
		t.Error("face detection should survive recognition failure on the same image")
	}

	ok := enriched.ImageEnrichments[1]
	if ok.RecognizedText == nil || *ok.RecognizedText != "visible text" {
		t.Error("healthy image lost its recognition result")
	}
}

func TestEnrichCaptionNeverFeedsEntityExtraction(t *testing.T) {
	extractor := &fakeEntityExtractor{}
	o := New(Options{
		Recognizer: &fakeRecognizer{texts: map[string]string{"a": "receipt total 42"}},
		Captioner:  &fakeCaptioner{captions: map[string]string{"a": "SECRET CAPTION"}},
		Entities:   extractor,
	})

	enriched, err := o.Enrich(context.Background(), testDoc(document.ImageAttachment{ID: "a"}))
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if enriched.ImageEnrichments[0].Caption == nil {
		t.Fatal("caption missing")
	}

	if len(extractor.received) != 1 {
		t.Fatalf("expected one extraction call, got %d", len(extractor.received))
	}
	got := extractor.received[0]
	if !strings.Contains(got, "dinner with Alice") || !strings.Contains(got, "receipt total 42") {
		t.Errorf("extraction input missing document or recognized text: %q", got)
	}
	if strings.Contains(got, "SECRET CAPTION") {
		t.Errorf("caption leaked into entity extraction input: %q", got)
	}
}

func TestEnrichZeroImagesStillExtractsEntities(t *testing.T) {
	extractor := &fakeEntityExtractor{
		entities: []document.Entity{{Text: "Alice", Kind: "person"}},
	}
	o := New(Options{Entities: extractor})

	enriched, err := o.Enrich(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if enriched.DocumentEnrichment == nil {
		t.Fatal("expected document enrichment for image-free document")
	}
	if len(enriched.DocumentEnrichment.Entities) != 1 {
		t.Errorf("expected 1 entity, got %d", len(enriched.DocumentEnrichment.Entities))
	}
}

func TestEnrichEntityFailureYieldsEmptyRecord(t *testing.T) {
	o := New(Options{Entities: &fakeEntityExtractor{err: errors.New("ner backend down")}})

	enriched, err := o.Enrich(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	de := enriched.DocumentEnrichment
	if de == nil {
		t.Fatal("failed extraction should leave an attempt record, not absence")
	}
	if len(de.Entities) != 0 {
		t.Errorf("expected no entities, got %d", len(de.Entities))
	}
	if de.ExtractedAt.IsZero() {
		t.Error("attempt record missing timestamp")
	}
}

func TestEnrichNoExtractorNoRecord(t *testing.T) {
	o := New(Options{})
	enriched, err := o.Enrich(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if enriched.DocumentEnrichment != nil {
		t.Error("expected no document enrichment without an extractor")
	}
}

func TestEnrichEmptyTextSkipsExtraction(t *testing.T) {
	extractor := &fakeEntityExtractor{}
	o := New(Options{Entities: extractor})

	doc := testDoc()
	doc.Content = "   "
	enriched, err := o.Enrich(context.Background(), doc)
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if enriched.DocumentEnrichment != nil {
		t.Error("expected no enrichment record for blank text")
	}
	if len(extractor.received) != 0 {
		t.Error("extractor should not be called for blank text")
	}
}

func TestEnrichMalformedDocument(t *testing.T) {
	o := New(Options{})
	_, err := o.Enrich(context.Background(), &document.CollectorDocument{ExternalID: "x"})
	if !errors.Is(err, apperrors.ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument, got %v", err)
	}
}

func TestEnrichManyImagesBoundedParallelism(t *testing.T) {
	const n = 20
	texts := make(map[string]string, n)
	images := make([]document.ImageAttachment, n)
	for i := range images {
		id := fmt.Sprintf("img-%d", i)
		images[i] = document.ImageAttachment{ID: id}
		texts[id] = "t " + id
	}
	rec := &fakeRecognizer{texts: texts}
	o := New(Options{Recognizer: rec, ImageParallelism: 4})

	enriched, err := o.Enrich(context.Background(), testDoc(images...))
	if err != nil {
		t.Fatalf("enrich failed: %v", err)
	}
	if rec.calls != n {
		t.Errorf("expected %d recognition calls, got %d", n, rec.calls)
	}
	for i := range images {
		if enriched.ImageEnrichments[i] == nil {
			t.Fatalf("enrichment %d is nil", i)
		}
	}
}
