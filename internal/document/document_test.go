package document

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     CollectorDocument
		wantErr bool
	}{
		{
			name: "valid",
			doc:  CollectorDocument{SourceType: "gmail", ExternalID: "m1", Content: "hi"},
		},
		{
			name:    "missing source type",
			doc:     CollectorDocument{ExternalID: "m1"},
			wantErr: true,
		},
		{
			name:    "missing external id",
			doc:     CollectorDocument{SourceType: "gmail"},
			wantErr: true,
		},
		{
			name: "empty content is allowed",
			doc:  CollectorDocument{SourceType: "dropbox", ExternalID: "f1"},
		},
		{
			name: "image without id",
			doc: CollectorDocument{
				SourceType: "gmail",
				ExternalID: "m1",
				Images:     []ImageAttachment{{Filename: "x.jpg"}},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEmbeddedImageIDDeterministic(t *testing.T) {
	data := []byte("image bytes")
	first := EmbeddedImageID(data)
	if first != EmbeddedImageID(data) {
		t.Error("same bytes produced different ids")
	}
	if first == EmbeddedImageID([]byte("other bytes")) {
		t.Error("different bytes produced the same id")
	}
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
}

func TestFileImageIDCanonicalizes(t *testing.T) {
	if FileImageID("/photos/./2024/../2024/img.jpg") != FileImageID("/photos/2024/img.jpg") {
		t.Error("equivalent paths produced different ids")
	}
}

func TestDropImageDataKeepsIdentity(t *testing.T) {
	doc := CollectorDocument{
		SourceType: "gmail",
		ExternalID: "m1",
		Images: []ImageAttachment{
			{ID: "a", Filename: "x.jpg", Data: []byte{1, 2, 3}},
			{ID: "b", Path: "/tmp/y.jpg"},
		},
	}
	doc.DropImageData()
	for i, img := range doc.Images {
		if img.Data != nil || img.Path != "" {
			t.Errorf("image %d still carries byte/path reference", i)
		}
		if img.ID == "" {
			t.Errorf("image %d lost its id", i)
		}
	}
	if doc.Images[0].Filename != "x.jpg" {
		t.Error("filename dropped alongside data")
	}
}

func TestDisplayName(t *testing.T) {
	withName := ImageAttachment{ID: "hash", Filename: "photo.jpg"}
	if withName.DisplayName() != "photo.jpg" {
		t.Errorf("expected filename, got %q", withName.DisplayName())
	}
	withoutName := ImageAttachment{ID: "hash"}
	if withoutName.DisplayName() != "hash" {
		t.Errorf("expected id fallback, got %q", withoutName.DisplayName())
	}
}

func TestRecognizedTextExcludesCaptions(t *testing.T) {
	text1, text2 := "receipt total 42", "boarding pass"
	caption := "a dog"
	enriched := &EnrichedDocument{
		ImageEnrichments: []*ImageEnrichment{
			{RecognizedText: &text1, Caption: &caption},
			nil,
			{RecognizedText: &text2},
			{Caption: &caption},
		},
	}
	got := enriched.RecognizedText()
	if got != text1+"\n"+text2 {
		t.Errorf("unexpected combined text: %q", got)
	}
	if strings.Contains(got, caption) {
		t.Error("caption leaked into recognized text")
	}
}

func TestRecognizedTextEmpty(t *testing.T) {
	enriched := &EnrichedDocument{ImageEnrichments: []*ImageEnrichment{nil, {}}}
	if got := enriched.RecognizedText(); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
