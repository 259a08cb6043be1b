package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lifearchive/enrichment-pipeline/internal/document"
	"github.com/lifearchive/enrichment-pipeline/pkg/config"
	"github.com/lifearchive/enrichment-pipeline/pkg/resilience"
)

// httpClient is the shared transport for HTTP-backed capability services.
// Each call carries the capability's configured timeout; a timeout is a
// per-step failure like any other, never an abort of the whole document.
type httpClient struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

func newHTTPClient(cfg config.CapabilityConfig) httpClient {
	return httpClient{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		http:     &http.Client{},
	}
}

// imageRef is the wire representation of an image attachment: embedded bytes
// travel base64-encoded, file-backed images travel as a path the service can
// read.
type imageRef struct {
	ID   string `json:"id"`
	Data string `json:"data,omitempty"`
	Path string `json:"path,omitempty"`
}

func refOf(img document.ImageAttachment) imageRef {
	ref := imageRef{ID: img.ID, Path: img.Path}
	if len(img.Data) > 0 {
		ref.Data = base64.StdEncoding.EncodeToString(img.Data)
	}
	return ref
}

// postJSON sends the request body to path under the capability endpoint and
// decodes the JSON response into out.
func (c httpClient) postJSON(ctx context.Context, name, path string, in, out any) error {
	return resilience.WithTimeout(ctx, c.timeout, name, func(ctx context.Context) error {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", name, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building %s request: %w", name, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s call: %w", name, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("%s returned %d: %s", name, resp.StatusCode, bytes.TrimSpace(detail))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", name, err)
		}
		return nil
	})
}
