package rewrite

import (
	"errors"
	"strings"
	"testing"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	apperrors "github.com/lifearchive/enrichment-pipeline/pkg/errors"
)

func strptr(s string) *string { return &s }

func enrichedDoc(content string, images []document.ImageAttachment, enrichments []*document.ImageEnrichment) *document.EnrichedDocument {
	return &document.EnrichedDocument{
		Base: document.CollectorDocument{
			SourceType: "gmail",
			ExternalID: "msg-1",
			Content:    content,
			Images:     images,
		},
		ImageEnrichments: enrichments,
	}
}

func TestRewriteReplacesPlaceholderWithCaption(t *testing.T) {
	doc := enrichedDoc(
		"see {IMG:abc} for details",
		[]document.ImageAttachment{{ID: "abc", Filename: "x.jpg"}},
		[]*document.ImageEnrichment{{Caption: strptr("a cat")}},
	)

	out, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	want := "see [Image: a cat | x.jpg] for details"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestRewriteWithoutCaptionFallsBack(t *testing.T) {
	doc := enrichedDoc(
		"photo: {IMG:deadbeef}",
		[]document.ImageAttachment{{ID: "deadbeef"}},
		[]*document.ImageEnrichment{nil},
	)

	out, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	want := "photo: [Image: No caption | deadbeef]"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestRewritePrefersFilenameOverID(t *testing.T) {
	doc := enrichedDoc(
		"{IMG:hash123}",
		[]document.ImageAttachment{{ID: "hash123", Filename: "holiday.png"}},
		[]*document.ImageEnrichment{{}},
	)

	out, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if !strings.Contains(out, "holiday.png") {
		t.Errorf("expected filename in slug, got %q", out)
	}
	if strings.Contains(out, "hash123") {
		t.Errorf("expected id to be hidden behind filename, got %q", out)
	}
}

func TestRewriteMultiplePlaceholdersKeepOrder(t *testing.T) {
	doc := enrichedDoc(
		"first {IMG:a} then {IMG:b} end",
		[]document.ImageAttachment{
			{ID: "a", Filename: "one.jpg"},
			{ID: "b", Filename: "two.jpg"},
		},
		[]*document.ImageEnrichment{
			{Caption: strptr("sunrise")},
			{Caption: strptr("sunset")},
		},
	)

	out, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	want := "first [Image: sunrise | one.jpg] then [Image: sunset | two.jpg] end"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestRewriteIsIdempotent(t *testing.T) {
	doc := enrichedDoc(
		"see {IMG:abc}",
		[]document.ImageAttachment{{ID: "abc", Filename: "x.jpg"}},
		[]*document.ImageEnrichment{{Caption: strptr("a cat")}},
	)

	first, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("first rewrite failed: %v", err)
	}
	doc.Base.Content = first
	second, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("second rewrite failed: %v", err)
	}
	if first != second {
		t.Errorf("rewrite not idempotent: %q then %q", first, second)
	}
}

func TestRewriteNoPlaceholdersPassesThrough(t *testing.T) {
	content := "plain text, no images at all"
	doc := enrichedDoc(content, nil, nil)

	out, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if out != content {
		t.Errorf("expected pass-through, got %q", out)
	}
}

func TestRewriteUnknownPlaceholder(t *testing.T) {
	doc := enrichedDoc(
		"see {IMG:ghost}",
		[]document.ImageAttachment{{ID: "abc"}},
		[]*document.ImageEnrichment{{}},
	)

	_, err := Rewrite(doc)
	if !errors.Is(err, apperrors.ErrUnknownPlaceholder) {
		t.Fatalf("expected ErrUnknownPlaceholder, got %v", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("expected offending id in error, got %v", err)
	}
}

func TestRewriteIsDeterministic(t *testing.T) {
	doc := enrichedDoc(
		"a {IMG:x} b",
		[]document.ImageAttachment{{ID: "x", Filename: "p.jpg"}},
		[]*document.ImageEnrichment{{Caption: strptr("dog on a beach")}},
	)
	first, err := Rewrite(doc)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		out, err := Rewrite(doc)
		if err != nil {
			t.Fatalf("rewrite %d failed: %v", i, err)
		}
		if out != first {
			t.Fatalf("rewrite %d differs: %q vs %q", i, out, first)
		}
	}
}

func TestSlugEmptyCaptionTreatedAsAbsent(t *testing.T) {
	got := Slug(document.ImageAttachment{ID: "i", Filename: "f.jpg"}, &document.ImageEnrichment{Caption: strptr("")})
	want := "[Image: No caption | f.jpg]"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func BenchmarkRewrite(b *testing.B) {
	images := make([]document.ImageAttachment, 8)
	enrichments := make([]*document.ImageEnrichment, 8)
	var sb strings.Builder
	for i := range images {
		id := string(rune('a' + i))
		images[i] = document.ImageAttachment{ID: id, Filename: id + ".jpg"}
		enrichments[i] = &document.ImageEnrichment{Caption: strptr("caption " + id)}
		sb.WriteString("text {IMG:" + id + "} ")
	}
	doc := enrichedDoc(sb.String(), images, enrichments)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Rewrite(doc); err != nil {
			b.Fatal(err)
		}
	}
}
