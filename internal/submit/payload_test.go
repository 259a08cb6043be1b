package submit

import (
	"testing"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
)

func strptr(s string) *string { return &s }

func TestIdempotencyKeyDeterministic(t *testing.T) {
	first := IdempotencyKey("gmail", "msg-1", "hello world")
	second := IdempotencyKey("gmail", "msg-1", "hello world")
	if first != second {
		t.Error("identical input produced different keys")
	}
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
}

func TestIdempotencyKeySensitivity(t *testing.T) {
	base := IdempotencyKey("gmail", "msg-1", "hello")
	if IdempotencyKey("imessage", "msg-1", "hello") == base {
		t.Error("source type change did not change the key")
	}
	if IdempotencyKey("gmail", "msg-2", "hello") == base {
		t.Error("external id change did not change the key")
	}
	if IdempotencyKey("gmail", "msg-1", "hello!") == base {
		t.Error("content change did not change the key")
	}
}

func TestNewPayloadCarriesEnrichmentSummaries(t *testing.T) {
	doc := &document.EnrichedDocument{
		Base: document.CollectorDocument{
			SourceType:  "gmail",
			ExternalID:  "msg-1",
			Content:     "rewritten text",
			ContentType: document.ContentTypeEmail,
			Images: []document.ImageAttachment{
				{ID: "a", Filename: "cat.jpg"},
				{ID: "b"},
			},
			Metadata: document.Metadata{ContentHash: "h1", MIMEType: "message/rfc822"},
		},
		DocumentEnrichment: &document.DocumentEnrichment{
			Entities: []document.Entity{{Text: "Alice", Kind: "person"}},
		},
		ImageEnrichments: []*document.ImageEnrichment{
			{
				Caption:        strptr("a cat"),
				RecognizedText: strptr("whiskas"),
				Faces:          &document.FaceDetection{Count: 0},
			},
			nil,
		},
	}

	p := NewPayload(doc)
	if p.Text != "rewritten text" {
		t.Errorf("unexpected text: %q", p.Text)
	}
	if p.ContentType != "email" {
		t.Errorf("unexpected content type: %q", p.ContentType)
	}
	if p.IdempotencyKey != IdempotencyKey("gmail", "msg-1", "rewritten text") {
		t.Error("payload key does not match the derivation")
	}
	if len(p.Metadata.Entities) != 1 || p.Metadata.Entities[0].Text != "Alice" {
		t.Errorf("entities not carried: %v", p.Metadata.Entities)
	}
	if len(p.Metadata.Images) != 2 {
		t.Fatalf("expected 2 image summaries, got %d", len(p.Metadata.Images))
	}
	first := p.Metadata.Images[0]
	if first.Name != "cat.jpg" || first.Caption != "a cat" || first.RecognizedText != "whiskas" {
		t.Errorf("unexpected first summary: %+v", first)
	}
	second := p.Metadata.Images[1]
	if second.Name != "b" || second.Caption != "" {
		t.Errorf("unenriched image should carry name only: %+v", second)
	}
	if p.Metadata.ContentHash != "h1" {
		t.Errorf("content hash not carried: %q", p.Metadata.ContentHash)
	}
}

func TestNewPayloadKeyChangesWithRewrittenText(t *testing.T) {
	doc := &document.EnrichedDocument{
		Base: document.CollectorDocument{SourceType: "gmail", ExternalID: "m", Content: "v1"},
	}
	k1 := NewPayload(doc).IdempotencyKey
	doc.Base.Content = "v2"
	k2 := NewPayload(doc).IdempotencyKey
	if k1 == k2 {
		t.Error("key must change when submitted text changes")
	}
}
