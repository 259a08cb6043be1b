package capability

import (
	"context"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	"github.com/lifearchive/enrichment-pipeline/pkg/config"
)

// HTTPRecognizer is a TextRecognizer backed by a remote OCR service.
type HTTPRecognizer struct {
	client    httpClient
	languages []string
}

// NewHTTPRecognizer returns nil when the capability is disabled, which the
// orchestrator treats identically to absence.
func NewHTTPRecognizer(cfg config.CapabilityConfig) *HTTPRecognizer {
	if !cfg.Enabled {
		return nil
	}
	return &HTTPRecognizer{client: newHTTPClient(cfg), languages: cfg.Languages}
}

func (r *HTTPRecognizer) RecognizeText(ctx context.Context, img document.ImageAttachment) (string, error) {
	req := struct {
		Image     imageRef `json:"image"`
		Languages []string `json:"languages,omitempty"`
	}{refOf(img), r.languages}
	var resp struct {
		Text string `json:"text"`
	}
	if err := r.client.postJSON(ctx, "text-recognition", "/v1/recognize", req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// HTTPFaceDetector is a FaceDetector backed by a remote vision service.
type HTTPFaceDetector struct {
	client        httpClient
	minConfidence float64
}

func NewHTTPFaceDetector(cfg config.CapabilityConfig) *HTTPFaceDetector {
	if !cfg.Enabled {
		return nil
	}
	return &HTTPFaceDetector{client: newHTTPClient(cfg), minConfidence: cfg.MinConfidence}
}

func (d *HTTPFaceDetector) DetectFaces(ctx context.Context, img document.ImageAttachment) (*document.FaceDetection, error) {
	req := struct {
		Image         imageRef `json:"image"`
		MinConfidence float64  `json:"min_confidence,omitempty"`
	}{refOf(img), d.minConfidence}
	var resp document.FaceDetection
	if err := d.client.postJSON(ctx, "face-detection", "/v1/faces", req, &resp); err != nil {
		return nil, err
	}
	// Services that only return observations leave Count unset.
	if resp.Count == 0 {
		resp.Count = len(resp.Faces)
	}
	return &resp, nil
}

// HTTPCaptioner is a Captioner backed by a remote vision-language service.
type HTTPCaptioner struct {
	client httpClient
	model  string
}

func NewHTTPCaptioner(cfg config.CapabilityConfig) *HTTPCaptioner {
	if !cfg.Enabled {
		return nil
	}
	return &HTTPCaptioner{client: newHTTPClient(cfg), model: cfg.Model}
}

func (c *HTTPCaptioner) Caption(ctx context.Context, img document.ImageAttachment) (string, error) {
	req := struct {
		Image imageRef `json:"image"`
		Model string   `json:"model,omitempty"`
	}{refOf(img), c.model}
	var resp struct {
		Caption string `json:"caption"`
	}
	if err := c.client.postJSON(ctx, "captioning", "/v1/caption", req, &resp); err != nil {
		return "", err
	}
	return resp.Caption, nil
}

// HTTPEntityExtractor is an EntityExtractor backed by a remote NER service.
type HTTPEntityExtractor struct {
	client        httpClient
	minConfidence float64
}

func NewHTTPEntityExtractor(cfg config.CapabilityConfig) *HTTPEntityExtractor {
	if !cfg.Enabled {
		return nil
	}
	return &HTTPEntityExtractor{client: newHTTPClient(cfg), minConfidence: cfg.MinConfidence}
}

func (e *HTTPEntityExtractor) ExtractEntities(ctx context.Context, text string) ([]document.Entity, error) {
	req := struct {
		Text string `json:"text"`
	}{text}
	var resp struct {
		Entities []document.Entity `json:"entities"`
	}
	if err := e.client.postJSON(ctx, "entity-extraction", "/v1/entities", req, &resp); err != nil {
		return nil, err
	}
	if e.minConfidence > 0 {
		kept := resp.Entities[:0]
		for _, ent := range resp.Entities {
			if ent.Confidence >= e.minConfidence {
				kept = append(kept, ent)
			}
		}
		resp.Entities = kept
	}
	return resp.Entities, nil
}
