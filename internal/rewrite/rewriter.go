// Package rewrite implements the deterministic token-to-slug pass that
// replaces inline {IMG:<id>} placeholders in document text with
// human-readable enrichment summaries.
package rewrite

import (
	"fmt"
	"regexp"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	apperrors "github.com/lifearchive/enrichment-pipeline/pkg/errors"
)

var placeholderRE = regexp.MustCompile(`\{IMG:([^{}]+)\}`)

// Rewrite replaces each placeholder in the document's content with a slug of
// the form "[Image: <caption-or-No caption> | <filename-or-hash>]", keeping
// surrounding text and ordering intact.
//
// It is a pure function of its input and idempotent: text without remaining
// placeholders passes through unchanged. A placeholder id with no matching
// image is a collector contract violation and returns ErrUnknownPlaceholder.
func Rewrite(enriched *document.EnrichedDocument) (string, error) {
	type slot struct {
		image      document.ImageAttachment
		enrichment *document.ImageEnrichment
	}
	byID := make(map[string]slot, len(enriched.Base.Images))
	for i, img := range enriched.Base.Images {
		var ie *document.ImageEnrichment
		if i < len(enriched.ImageEnrichments) {
			ie = enriched.ImageEnrichments[i]
		}
		byID[img.ID] = slot{image: img, enrichment: ie}
	}

	var missing []string
	out := placeholderRE.ReplaceAllStringFunc(enriched.Base.Content, func(token string) string {
		id := placeholderRE.FindStringSubmatch(token)[1]
		s, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			return token
		}
		return Slug(s.image, s.enrichment)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %v", apperrors.ErrUnknownPlaceholder, missing)
	}
	return out, nil
}

// Slug formats the replacement text for one image.
func Slug(img document.ImageAttachment, enrichment *document.ImageEnrichment) string {
	caption := "No caption"
	if enrichment != nil && enrichment.Caption != nil && *enrichment.Caption != "" {
		caption = *enrichment.Caption
	}
	return fmt.Sprintf("[Image: %s | %s]", caption, img.DisplayName())
}
