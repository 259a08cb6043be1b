// Package document defines the data model shared across the enrichment
// pipeline: collector documents entering the queue, their image attachments,
// and the enriched results produced by the orchestrator.
package document

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ContentType classifies the origin artifact of a collector document.
type ContentType string

const (
	ContentTypeEmail   ContentType = "email"
	ContentTypeMessage ContentType = "message"
	ContentTypeFile    ContentType = "file"
	ContentTypeContact ContentType = "contact"
)

// Metadata carries content identity and timestamps supplied by the collector,
// plus an open-ended key/value map for source-specific fields.
type Metadata struct {
	ContentHash string            `json:"content_hash,omitempty"`
	MIMEType    string            `json:"mime_type,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitzero"`
	ModifiedAt  time.Time         `json:"modified_at,omitzero"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// ImageAttachment identifies an inline image and carries a temporary
// reference to its bytes or on-disk path. The reference is only valid while
// the enrichment step runs; nothing downstream retains original image bytes.
type ImageAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Path     string `json:"path,omitempty"`
}

// DisplayName returns the filename when the collector provided one, falling
// back to the image id (content hash or canonical path).
func (a ImageAttachment) DisplayName() string {
	if a.Filename != "" {
		return a.Filename
	}
	return a.ID
}

// EmbeddedImageID derives the deterministic id for an image carried as bytes.
func EmbeddedImageID(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// FileImageID derives the deterministic id for a file-backed image from its
// canonical path.
func FileImageID(path string) string {
	return filepath.Clean(path)
}

// CollectorDocument is the unit of work entering the pipeline. Content may
// contain inline image placeholders of the form {IMG:<id>}; collectors
// guarantee a one-to-one correspondence between placeholder ids and entries
// in Images.
type CollectorDocument struct {
	SourceType  string            `json:"source_type"`
	ExternalID  string            `json:"external_id"`
	Content     string            `json:"content"`
	ContentType ContentType       `json:"content_type"`
	Images      []ImageAttachment `json:"images,omitempty"`
	Metadata    Metadata          `json:"metadata,omitzero"`
}

// Validate reports whether the document is well-formed enough to enrich.
// Placeholder/image correspondence is the collector's contract and is not
// checked here; only structural requirements are.
func (d *CollectorDocument) Validate() error {
	if d.SourceType == "" {
		return fmt.Errorf("document %q: missing source type", d.ExternalID)
	}
	if d.ExternalID == "" {
		return fmt.Errorf("%s document: missing external id", d.SourceType)
	}
	for i, img := range d.Images {
		if img.ID == "" {
			return fmt.Errorf("document %s/%s: image %d has no id", d.SourceType, d.ExternalID, i)
		}
	}
	return nil
}

// HasImages reports whether the document carries any image attachments,
// which determines its worker-pool eligibility.
func (d *CollectorDocument) HasImages() bool {
	return len(d.Images) > 0
}

// DropImageData discards the temporary byte/path references of every image
// attachment. Identity fields are kept so rewriting and submission still
// correlate placeholders.
func (d *CollectorDocument) DropImageData() {
	for i := range d.Images {
		d.Images[i].Data = nil
		d.Images[i].Path = ""
	}
}

// BoundingBox is a normalized rectangle within an image.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceObservation is one detected face.
type FaceObservation struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Landmarks  []Point     `json:"landmarks,omitempty"`
}

// Point is a normalized landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceDetection is the result of the face-detection step for one image.
type FaceDetection struct {
	Count int               `json:"count"`
	Faces []FaceObservation `json:"faces,omitempty"`
}

// Entity is a named entity extracted from document text.
type Entity struct {
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ImageEnrichment holds the per-image step results. A nil field means the
// step was skipped, disabled, or failed; it never means "not attempted with
// an empty result". Caption text is terminal: it is never fed into entity
// extraction or any other step.
type ImageEnrichment struct {
	RecognizedText *string        `json:"recognized_text,omitempty"`
	Faces          *FaceDetection `json:"faces,omitempty"`
	Caption        *string        `json:"caption,omitempty"`
	EnrichedAt     time.Time      `json:"enriched_at"`
}

// DocumentEnrichment holds document-level results: entities extracted from
// the document's own text concatenated with all recognized image text.
type DocumentEnrichment struct {
	Entities    []Entity  `json:"entities,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// EnrichedDocument pairs a collector document with its enrichment results.
// ImageEnrichments is always index-aligned with Base.Images.
type EnrichedDocument struct {
	Base               CollectorDocument   `json:"base"`
	DocumentEnrichment *DocumentEnrichment `json:"document_enrichment,omitempty"`
	ImageEnrichments   []*ImageEnrichment  `json:"image_enrichments"`
}

// RecognizedText concatenates the recognized text of every image that
// produced one, in image order. Captions are deliberately excluded.
func (e *EnrichedDocument) RecognizedText() string {
	var parts []string
	for _, ie := range e.ImageEnrichments {
		if ie != nil && ie.RecognizedText != nil && *ie.RecognizedText != "" {
			parts = append(parts, *ie.RecognizedText)
		}
	}
	return strings.Join(parts, "\n")
}
