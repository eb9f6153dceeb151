// Package content wraps the concept-shaping service that turns a raw user
// concept into a short scene brief. The brief is decorative: callers treat
// any failure as a degraded empty brief, never as a pipeline failure.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"worldforge/internal/domain"
)

// Shaper produces a scene brief for a concept.
type Shaper interface {
	ShapeConcept(ctx context.Context, concept string, quality domain.QualityTier) (string, error)
}

// Options controls how the content client is configured.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client is the HTTP implementation of Shaper.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      strings.TrimSpace(opts.APIKey),
	}
}

type shapeRequest struct {
	Concept string `json:"concept"`
	Quality string `json:"quality"`
}

type shapeResponse struct {
	Brief   string `json:"brief"`
	Message string `json:"message"`
}

// ShapeConcept requests a scene brief. An unconfigured base URL reports an
// error so the caller can degrade instead of issuing a doomed request.
func (c *Client) ShapeConcept(ctx context.Context, concept string, quality domain.QualityTier) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("content: base url not configured")
	}
	body, err := json.Marshal(shapeRequest{Concept: concept, Quality: string(quality)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scene-briefs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("content: %w", err)
	}
	defer resp.Body.Close()

	var out shapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("content: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return "", fmt.Errorf("content: %s", out.Message)
		}
		return "", fmt.Errorf("content: http %d", resp.StatusCode)
	}
	return strings.TrimSpace(out.Brief), nil
}

var _ Shaper = (*Client)(nil)
