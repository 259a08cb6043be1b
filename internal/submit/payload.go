// Package submit implements the batch submitter: it buffers enriched,
// rewritten documents and delivers them to the remote ingestion boundary in
// bounded chunks, with chunk-level retry for transient failures and a
// per-document fallback for permanent ones.
package submit

import (
	"crypto/sha256"
	"fmt"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
)

// Payload is the wire shape of one document sent to the ingestion boundary.
type Payload struct {
	SourceType     string          `json:"source_type"`
	ExternalID     string          `json:"external_id"`
	ContentType    string          `json:"content_type,omitempty"`
	Text           string          `json:"text"`
	Metadata       PayloadMetadata `json:"metadata"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// PayloadMetadata carries the enrichment-derived metadata block.
type PayloadMetadata struct {
	Entities    []document.Entity `json:"entities,omitempty"`
	Images      []ImageSummary    `json:"images,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	MIMEType    string            `json:"mime_type,omitempty"`
}

// ImageSummary is the per-image enrichment summary; no image bytes, only
// derived metadata.
type ImageSummary struct {
	Name           string `json:"name"`
	Caption        string `json:"caption,omitempty"`
	RecognizedText string `json:"recognized_text,omitempty"`
	FaceCount      int    `json:"face_count,omitempty"`
}

// NewPayload converts an enriched document (whose text has already been
// rewritten) to its wire shape.
func NewPayload(doc *document.EnrichedDocument) Payload {
	p := Payload{
		SourceType:  doc.Base.SourceType,
		ExternalID:  doc.Base.ExternalID,
		ContentType: string(doc.Base.ContentType),
		Text:        doc.Base.Content,
		Metadata: PayloadMetadata{
			ContentHash: doc.Base.Metadata.ContentHash,
			MIMEType:    doc.Base.Metadata.MIMEType,
		},
	}
	if doc.DocumentEnrichment != nil {
		p.Metadata.Entities = doc.DocumentEnrichment.Entities
	}
	for i, img := range doc.Base.Images {
		summary := ImageSummary{Name: img.DisplayName()}
		if i < len(doc.ImageEnrichments) && doc.ImageEnrichments[i] != nil {
			ie := doc.ImageEnrichments[i]
			if ie.Caption != nil {
				summary.Caption = *ie.Caption
			}
			if ie.RecognizedText != nil {
				summary.RecognizedText = *ie.RecognizedText
			}
			if ie.Faces != nil {
				summary.FaceCount = ie.Faces.Count
			}
		}
		p.Metadata.Images = append(p.Metadata.Images, summary)
	}
	p.IdempotencyKey = IdempotencyKey(p.SourceType, p.ExternalID, p.Text)
	return p
}

// IdempotencyKey derives the deterministic key the remote boundary uses to
// deduplicate repeated submissions of identical content: a hash over the
// source identity and a hash of the submitted text.
func IdempotencyKey(sourceType, externalID, text string) string {
	textHash := sha256.Sum256([]byte(text))
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%x", sourceType, externalID, textHash))
	return fmt.Sprintf("%x", sum)
}
