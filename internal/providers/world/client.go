// Package world wraps the external 3D world-reconstruction service. The
// protocol is upload asset, submit generation, poll the long-running
// operation, then fetch the result resource whose downstream assets appear
// with some delay after the operation reports done.
package world

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"worldforge/internal/domain"
)

// API is the generation contract consumed by the pipeline.
type API interface {
	PrepareUpload(ctx context.Context, filename string) (UploadTarget, error)
	UploadBytes(ctx context.Context, target UploadTarget, data []byte) error
	SubmitGeneration(ctx context.Context, input SubmitInput) (string, error)
	PollOperation(ctx context.Context, handle string, onPoll func(attempt, maxAttempts int)) (string, error)
	FetchResult(ctx context.Context, resultID string) (*Resource, error)
}

// UploadTarget is a signed destination for raw asset bytes.
type UploadTarget struct {
	AssetID string            `json:"asset_id"`
	URL     string            `json:"upload_url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// SubmitInput identifies the source image, either by uploaded asset id or by
// an externally hosted URL, plus the text prompt for the generation.
type SubmitInput struct {
	AssetID  string `json:"asset_id,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Prompt   string `json:"prompt"`
}

// Options controls how the world client is configured.
type Options struct {
	BaseURL         string
	APIKey          string
	HTTPClient      *http.Client
	Timeout         time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
	FetchAttempts   int
	FetchDelay      time.Duration
}

// Client is the HTTP implementation of API.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	token           string
	pollInterval    time.Duration
	pollMaxAttempts int
	fetchAttempts   int
	fetchDelay      time.Duration
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	c := &Client{
		httpClient:      client,
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		token:           strings.TrimSpace(opts.APIKey),
		pollInterval:    opts.PollInterval,
		pollMaxAttempts: opts.PollMaxAttempts,
		fetchAttempts:   opts.FetchAttempts,
		fetchDelay:      opts.FetchDelay,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 5 * time.Second
	}
	if c.pollMaxAttempts <= 0 {
		c.pollMaxAttempts = 120
	}
	if c.fetchAttempts <= 0 {
		c.fetchAttempts = 5
	}
	if c.fetchDelay <= 0 {
		c.fetchDelay = 3 * time.Second
	}
	return c
}

// PrepareUpload requests a signed upload target for a named asset.
func (c *Client) PrepareUpload(ctx context.Context, filename string) (UploadTarget, error) {
	var target UploadTarget
	err := c.postJSON(ctx, "/uploads", map[string]string{"filename": filename}, &target)
	if err != nil {
		return UploadTarget{}, fmt.Errorf("prepare upload: %w", err)
	}
	if target.AssetID == "" || target.URL == "" {
		return UploadTarget{}, errors.New("prepare upload: incomplete target")
	}
	if target.Method == "" {
		target.Method = http.MethodPut
	}
	return target, nil
}

// UploadBytes transfers the raw asset bytes to the signed destination using
// the required method and headers.
func (c *Client) UploadBytes(ctx context.Context, target UploadTarget, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	for key, value := range target.Headers {
		req.Header.Set(key, value)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload bytes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload bytes: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type submitResponse struct {
	Operation string `json:"operation_id"`
	Message   string `json:"message"`
}

// SubmitGeneration requests creation of the 3D world and returns the handle
// of the long-running operation driving it.
func (c *Client) SubmitGeneration(ctx context.Context, input SubmitInput) (string, error) {
	if input.AssetID == "" && input.ImageURL == "" {
		return "", errors.New("submit generation: image source required")
	}
	var out submitResponse
	if err := c.postJSON(ctx, "/worlds", input, &out); err != nil {
		return "", fmt.Errorf("submit generation: %w", err)
	}
	if out.Operation == "" {
		return "", errors.New("submit generation: missing operation handle")
	}
	return out.Operation, nil
}

type operationResponse struct {
	ID       string `json:"id"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
	ResultID string `json:"result_id"`
}

// PollOperation fetches operation status at a fixed interval until done,
// honoring ctx between iterations so cancellation takes effect within one
// interval. A done response carrying an error is a fatal failure; otherwise
// the result identifier is returned. onPoll, when non-nil, is invoked before
// each attempt.
func (c *Client) PollOperation(ctx context.Context, handle string, onPoll func(attempt, maxAttempts int)) (string, error) {
	for attempt := 1; attempt <= c.pollMaxAttempts; attempt++ {
		if onPoll != nil {
			onPoll(attempt, c.pollMaxAttempts)
		}

		var op operationResponse
		if err := c.getJSON(ctx, "/operations/"+handle, &op); err != nil {
			return "", fmt.Errorf("poll operation: %w", err)
		}
		if op.Done {
			if op.Error != "" {
				return "", fmt.Errorf("poll operation: %w: %s", domain.ErrProviderFailure, op.Error)
			}
			if op.ResultID == "" {
				return "", errors.New("poll operation: done without result id")
			}
			return op.ResultID, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return "", fmt.Errorf("%w after %d attempts", domain.ErrOperationTimeout, c.pollMaxAttempts)
}

// FetchResult retrieves the result resource, retrying a bounded number of
// times because downstream assets may not be populated immediately after
// the operation reports done.
func (c *Client) FetchResult(ctx context.Context, resultID string) (*Resource, error) {
	var last *Resource
	for attempt := 1; attempt <= c.fetchAttempts; attempt++ {
		var res Resource
		if err := c.getJSON(ctx, "/worlds/"+resultID, &res); err != nil {
			return nil, fmt.Errorf("fetch result: %w", err)
		}
		if res.Ready() {
			return &res, nil
		}
		last = &res

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.fetchDelay):
		}
	}
	_ = last
	return nil, fmt.Errorf("%w for world %s after %d attempts", domain.ErrResultAssetsTimeout, resultID, c.fetchAttempts)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ API = (*Client)(nil)
