// Package inference is the HTTP client for the GPU inference endpoints.
// Endpoints either stream the artifact bytes back directly or return a JSON
// document pointing at a temporary URL the artifact can be downloaded from.
package inference

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxArtifactSize bounds how much we read from an upstream response.
const maxArtifactSize = 512 << 20

// UpstreamError carries the HTTP status and body of a failed inference call
// so callers can classify the failure.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Result is a successful inference response.
type Result struct {
	// Data holds the artifact bytes when the endpoint streamed them back.
	Data []byte
	// ContentType is the artifact content type reported upstream.
	ContentType string
	// TempURL is set instead of Data when the endpoint returned a pointer
	// to a temporary download location.
	TempURL string
}

// Client talks to the inference endpoints.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. verifySSL=false accepts the self-signed
// certificates some provider deployments present.
func NewClient(verifySSL bool, logger *slog.Logger) *Client {
	transport := &http.Transport{}
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	// No client-level timeout: generation calls carry per-attempt deadlines
	// on the context.
	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// Generate POSTs the payload to the endpoint and returns the artifact or a
// temp URL. timeout is the per-attempt deadline.
func (c *Client) Generate(ctx context.Context, endpointURL string, payload any, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	contentType := resp.Header.Get("Content-Type")
	if isArtifactType(contentType) {
		return &Result{Data: data, ContentType: contentType}, nil
	}

	// JSON body: the artifact lives at a temporary URL
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		// Some endpoints omit the content type on raw artifact bytes
		return &Result{Data: data, ContentType: contentType}, nil
	}
	for _, field := range []string{"url", "video_url", "image_url", "output_url"} {
		if u, ok := doc[field].(string); ok && u != "" {
			return &Result{TempURL: u}, nil
		}
	}
	return nil, fmt.Errorf("upstream response carries no artifact or url")
}

// Forward relays a request body to the endpoint unchanged and returns the
// upstream response. The caller owns closing the response body.
func (c *Client) Forward(ctx context.Context, endpointURL, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}

// Download fetches the artifact from a temporary URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &UpstreamError{StatusCode: resp.StatusCode, Body: "download failed"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to download artifact: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ListModels fetches the endpoint's model list and normalises the shapes
// different deployments return.
func (c *Client) ListModels(ctx context.Context, endpointURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read model list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	return NormalizeModelList(data)
}

// NormalizeModelList flattens the model list shapes upstream deployments
// return: {"models":[...]}, a bare JSON array, or an object keyed by model
// name.
func NormalizeModelList(data []byte) ([]string, error) {
	var wrapped struct {
		Models json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Models) > 0 {
		data = wrapped.Models
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var keyed map[string]any
	if err := json.Unmarshal(data, &keyed); err == nil {
		names := make([]string, 0, len(keyed))
		for name := range keyed {
			names = append(names, name)
		}
		return names, nil
	}

	return nil, fmt.Errorf("unrecognised model list shape")
}

// isArtifactType reports whether the content type is artifact bytes rather
// than a JSON envelope.
func isArtifactType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "image/") ||
		strings.HasPrefix(ct, "video/") ||
		strings.HasPrefix(ct, "application/octet-stream")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
