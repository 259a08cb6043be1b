// Package capability defines the optional enrichment services the
// orchestrator consumes (text recognition, face detection, captioning, and
// entity extraction) and provides HTTP-backed clients for each. Every
// capability is independently optional: a nil service means "disabled" and
// is never an error.
package capability

import (
	"context"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
)

// TextRecognizer extracts text visible in an image (OCR).
type TextRecognizer interface {
	RecognizeText(ctx context.Context, img document.ImageAttachment) (string, error)
}

// FaceDetector locates faces in an image.
type FaceDetector interface {
	DetectFaces(ctx context.Context, img document.ImageAttachment) (*document.FaceDetection, error)
}

// Captioner produces a short natural-language description of an image.
type Captioner interface {
	Caption(ctx context.Context, img document.ImageAttachment) (string, error)
}

// EntityExtractor extracts named entities from document-level text.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]document.Entity, error)
}
