// Package ledger talks to the external prepaid-credit balance service. The
// orchestration layer debits before launching a pipeline and refunds, best
// effort, when a pipeline fails.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"worldforge/internal/domain"
)

// Ledger is the balance contract the orchestrator consumes. Both calls
// return the new balance.
type Ledger interface {
	Debit(ctx context.Context, ownerID string, jobID string, amount int64) (int64, error)
	Credit(ctx context.Context, ownerID string, jobID string, amount int64) (int64, error)
}

// Options controls how the ledger client is configured.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client is the HTTP implementation of Ledger.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a ledger client from options, applying the defaults used
// across provider clients.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
	}
}

type transactionRequest struct {
	JobID  string `json:"job_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type transactionResponse struct {
	Balance int64  `json:"balance"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Debit withdraws amount from the owner's balance for the given job.
// Insufficient balance maps to domain.ErrInsufficientCredits.
func (c *Client) Debit(ctx context.Context, ownerID, jobID string, amount int64) (int64, error) {
	return c.transact(ctx, ownerID, "debit", transactionRequest{
		JobID:  jobID,
		Amount: amount,
		Reason: "world_generation",
	})
}

// Credit returns amount to the owner's balance, used to refund a failed job.
func (c *Client) Credit(ctx context.Context, ownerID, jobID string, amount int64) (int64, error) {
	return c.transact(ctx, ownerID, "credit", transactionRequest{
		JobID:  jobID,
		Amount: amount,
		Reason: "world_generation_refund",
	})
}

func (c *Client) transact(ctx context.Context, ownerID, op string, payload transactionRequest) (int64, error) {
	if c.baseURL == "" {
		return 0, errors.New("ledger: base url not configured")
	}
	if ownerID == "" {
		return 0, errors.New("ledger: owner id required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/%s", c.baseURL, url.PathEscape(ownerID), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledger %s: %w", op, err)
	}
	defer resp.Body.Close()

	var out transactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return 0, fmt.Errorf("ledger %s: http %d", op, resp.StatusCode)
		}
		return 0, fmt.Errorf("ledger %s: %w", op, err)
	}
	if resp.StatusCode == http.StatusPaymentRequired || out.Code == "insufficient_balance" {
		return out.Balance, domain.ErrInsufficientCredits
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return 0, fmt.Errorf("ledger %s: %s (%s)", op, out.Message, out.Code)
		}
		return 0, fmt.Errorf("ledger %s: http %d", op, resp.StatusCode)
	}
	return out.Balance, nil
}

var _ Ledger = (*Client)(nil)
