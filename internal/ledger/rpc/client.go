// Package rpc implements the ledger boundary against a chain gateway's JSON
// API. The gateway owns key custody and transaction signing; this client only
// submits operations for the agent's operating account and polls for receipts.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"necto/internal/ledger"
)

// Client talks to a chain gateway over HTTP.
type Client struct {
	apiKey       string
	baseURL      string
	agentAddress string
	client       *http.Client
	pollInterval time.Duration
}

// New creates a ledger client for the agent's operating account.
func New(baseURL, apiKey, agentAddress string) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		agentAddress: agentAddress,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollInterval: 2 * time.Second,
	}
}

// Allowance reads the spending allowance owner has granted to spender.
func (c *Client) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/token/allowance?owner="+owner+"&spender="+spender, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Amount, nil
}

// TransferFrom submits a transferFrom signed by the agent.
func (c *Client) TransferFrom(ctx context.Context, from, to string, amount uint64) (ledger.TxRef, error) {
	return c.submit(ctx, "/token/transfer-from", map[string]any{
		"from":   from,
		"to":     to,
		"amount": amount,
		"signer": c.agentAddress,
	})
}

// Approve submits an approval for spender to pull amount from the agent.
func (c *Client) Approve(ctx context.Context, spender string, amount uint64) (ledger.TxRef, error) {
	return c.submit(ctx, "/token/approve", map[string]any{
		"spender": spender,
		"amount":  amount,
		"signer":  c.agentAddress,
	})
}

// RegisterJob submits a job registration keyed by the payload hash.
func (c *Client) RegisterJob(ctx context.Context, payloadHash string, tracked bool) (ledger.TxRef, error) {
	return c.submit(ctx, "/registry/jobs", map[string]any{
		"payloadHash": payloadHash,
		"tracked":     tracked,
		"signer":      c.agentAddress,
	})
}

// JobCount reads the registry's job counter.
func (c *Client) JobCount(ctx context.Context) (uint64, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/registry/jobs/count", nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		Count uint64 `json:"count"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Count, nil
}

// GetJob reads a job registry entry.
func (c *Client) GetJob(ctx context.Context, id uint64) (*ledger.JobRecord, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/registry/jobs/"+strconv.FormatUint(id, 10), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Job *ledger.JobRecord `json:"job"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Job, nil
}

// Deposit submits an escrow deposit against a job id.
func (c *Client) Deposit(ctx context.Context, jobID, amount uint64) (ledger.TxRef, error) {
	return c.submit(ctx, "/escrow/deposits", map[string]any{
		"jobId":  jobID,
		"amount": amount,
		"signer": c.agentAddress,
	})
}

// GetEscrow reads the escrow record for a job id.
func (c *Client) GetEscrow(ctx context.Context, jobID uint64) (*ledger.EscrowRecord, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/escrow/deposits/"+strconv.FormatUint(jobID, 10), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Escrow *ledger.EscrowRecord `json:"escrow"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Escrow, nil
}

// WaitConfirmed polls the gateway until the transaction reaches a terminal
// status or ctx is done. A stalled confirmation blocks until the caller's
// outer deadline fires.
func (c *Client) WaitConfirmed(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.makeRequest(ctx, http.MethodGet, "/txs/"+string(ref), nil)
		if err != nil {
			return "", err
		}

		var result struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return "", fmt.Errorf("failed to unmarshal response: %w", err)
		}

		switch ledger.TxStatus(result.Status) {
		case ledger.TxConfirmed:
			return ledger.TxConfirmed, nil
		case ledger.TxReverted:
			return ledger.TxReverted, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// HealthCheck checks that the chain gateway is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.makeRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}

// submit posts a write operation and returns its transaction reference.
func (c *Client) submit(ctx context.Context, path string, payload map[string]any) (ledger.TxRef, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.makeRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}

	var result struct {
		TxRef string `json:"txRef"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.TxRef == "" {
		return "", fmt.Errorf("gateway returned no transaction reference")
	}
	return ledger.TxRef(result.TxRef), nil
}

// makeRequest makes an HTTP request to the chain gateway.
func (c *Client) makeRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
