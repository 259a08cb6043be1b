// Package enrich implements the per-document enrichment orchestrator. It
// runs a fixed, ordered set of steps over one document's images and text,
// isolating failures so one step's failure never prevents the others from
// running.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifearchive/enrichment-pipeline/internal/capability"
	"github.com/lifearchive/enrichment-pipeline/internal/document"
	apperrors "github.com/lifearchive/enrichment-pipeline/pkg/errors"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
	"github.com/lifearchive/enrichment-pipeline/pkg/metrics"
	"github.com/lifearchive/enrichment-pipeline/pkg/tracing"
)

// Options configures an Orchestrator. A nil capability service means the
// step is disabled; disabled and absent are treated identically.
type Options struct {
	Recognizer capability.TextRecognizer
	Faces      capability.FaceDetector
	Captioner  capability.Captioner
	Entities   capability.EntityExtractor

	// ImageParallelism bounds concurrent per-image work within one
	// document. Zero means sequential.
	ImageParallelism int

	Metrics *metrics.Metrics
}

// Orchestrator runs the enrichment steps for one document at a time. It is
// safe for concurrent use by multiple queue workers.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.ImageParallelism <= 0 {
		opts.ImageParallelism = 1
	}
	return &Orchestrator{
		opts:   opts,
		logger: logger.WithComponent("orchestrator"),
	}
}

// Enrich produces an EnrichedDocument for doc. It never fails for partial
// step failures; only malformed input is an error. ImageEnrichments is
// always index-aligned with doc.Images.
func (o *Orchestrator) Enrich(ctx context.Context, doc *document.CollectorDocument) (*document.EnrichedDocument, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedDocument, err)
	}

	spanCtx, span := tracing.StartSpan(ctx, "enrich", doc.SourceType+":"+doc.ExternalID)
	span.SetAttr("images", len(doc.Images))
	defer func() {
		span.End()
		span.Log()
	}()

	enriched := &document.EnrichedDocument{
		Base:             *doc,
		ImageEnrichments: make([]*document.ImageEnrichment, len(doc.Images)),
	}

	// Image steps run independently per image; a step failure leaves its
	// result absent and never propagates.
	g, gctx := errgroup.WithContext(spanCtx)
	g.SetLimit(o.opts.ImageParallelism)
	for i := range doc.Images {
		i := i
		g.Go(func() error {
			enriched.ImageEnrichments[i] = o.enrichImage(gctx, doc, doc.Images[i])
			return nil
		})
	}
	g.Wait()

	enriched.DocumentEnrichment = o.extractEntities(spanCtx, doc, enriched)
	return enriched, nil
}

// enrichImage runs recognition, face detection, and captioning for one
// image. Caption output is terminal: it never feeds a later step.
func (o *Orchestrator) enrichImage(ctx context.Context, doc *document.CollectorDocument, img document.ImageAttachment) *document.ImageEnrichment {
	result := &document.ImageEnrichment{EnrichedAt: time.Now().UTC()}
	log := logger.WithDocument(o.logger, doc.SourceType, doc.ExternalID).With("image_id", img.ID)

	if o.opts.Recognizer != nil {
		text, err := step(o, ctx, "recognition", func(ctx context.Context) (string, error) {
			return o.opts.Recognizer.RecognizeText(ctx, img)
		})
		if err != nil {
			log.Warn("text recognition failed", "error", err)
		} else if text != "" {
			result.RecognizedText = &text
		}
	}

	if o.opts.Faces != nil {
		faces, err := step(o, ctx, "faces", func(ctx context.Context) (*document.FaceDetection, error) {
			return o.opts.Faces.DetectFaces(ctx, img)
		})
		if err != nil {
			log.Warn("face detection failed", "error", err)
		} else {
			result.Faces = faces
		}
	}

	if o.opts.Captioner != nil {
		caption, err := step(o, ctx, "caption", func(ctx context.Context) (string, error) {
			return o.opts.Captioner.Caption(ctx, img)
		})
		if err != nil {
			log.Warn("captioning failed", "error", err)
		} else if caption != "" {
			result.Caption = &caption
		}
	}

	return result
}

// extractEntities runs document-level entity extraction over the document's
// own text concatenated with all recognized image text. Captions are
// excluded. A document with zero images still runs this over its own text.
// Step failure yields a record with no entities, not an absent record.
func (o *Orchestrator) extractEntities(ctx context.Context, doc *document.CollectorDocument, enriched *document.EnrichedDocument) *document.DocumentEnrichment {
	if o.opts.Entities == nil {
		return nil
	}
	combined := doc.Content
	if recognized := enriched.RecognizedText(); recognized != "" {
		combined = strings.TrimSpace(combined + "\n" + recognized)
	}
	if strings.TrimSpace(combined) == "" {
		return nil
	}

	record := &document.DocumentEnrichment{ExtractedAt: time.Now().UTC()}
	entities, err := step(o, ctx, "entities", func(ctx context.Context) ([]document.Entity, error) {
		return o.opts.Entities.ExtractEntities(ctx, combined)
	})
	if err != nil {
		logger.WithDocument(o.logger, doc.SourceType, doc.ExternalID).Warn("entity extraction failed", "error", err)
		return record
	}
	record.Entities = entities
	return record
}

// step times one capability call and records its outcome.
func step[T any](o *Orchestrator, ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	stepCtx, span := tracing.StartChildSpan(ctx, name)
	start := time.Now()
	result, err := fn(stepCtx)
	span.End()

	if o.opts.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.opts.Metrics.CapabilityCalls.WithLabelValues(name, status).Inc()
		o.opts.Metrics.CapabilityLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return result, err
}
