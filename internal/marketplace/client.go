package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"necto/internal/manifest"
	"necto/pkg/job"
)

// ErrDeploymentClosed is returned by CloseDeployment when the deployment is
// already closed or unknown. Callers treat a repeated close as a no-op.
var ErrDeploymentClosed = errors.New("deployment already closed")

// Client is the provider network contract. All four lifecycle operations may
// fail transiently; callers own the retry policy. Implementations must be safe
// for concurrent use by multiple routing attempts.
type Client interface {
	ListProviders(ctx context.Context) ([]job.CandidateProvider, error)
	CreateDeployment(ctx context.Context, m *manifest.Manifest) (*job.DeploymentRecord, error)
	// ListBids returns the bids placed so far. An empty list means "no bids
	// yet" and is not an error.
	ListBids(ctx context.Context, deploymentID string) ([]job.Bid, error)
	AcceptBid(ctx context.Context, deploymentID, bidID string, m *manifest.Manifest) (*job.Lease, error)
	CloseDeployment(ctx context.Context, deploymentID string) error

	HealthCheck(ctx context.Context) error
}

// HTTPClient talks to a marketplace gateway over its JSON API.
type HTTPClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a marketplace client against the given gateway.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListProviders fetches the live provider set and converts each entry to the
// canonical candidate shape.
func (c *HTTPClient) ListProviders(ctx context.Context) ([]job.CandidateProvider, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/providers", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Providers []providerEntry `json:"providers"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	candidates := make([]job.CandidateProvider, 0, len(result.Providers))
	for _, entry := range result.Providers {
		candidates = append(candidates, entry.toCandidate())
	}
	return candidates, nil
}

// CreateDeployment submits a manifest and returns the pending deployment.
func (c *HTTPClient) CreateDeployment(ctx context.Context, m *manifest.Manifest) (*job.DeploymentRecord, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	resp, err := c.makeRequest(ctx, http.MethodPost, "/deployments", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Deployment *deploymentEntry `json:"deployment"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Deployment == nil {
		return nil, fmt.Errorf("marketplace returned no deployment")
	}

	return &job.DeploymentRecord{
		ID:        result.Deployment.ID,
		Status:    job.DeploymentPending,
		Manifest:  m,
		CreatedAt: result.Deployment.CreatedAt,
	}, nil
}

// ListBids returns all bids against a deployment.
func (c *HTTPClient) ListBids(ctx context.Context, deploymentID string) ([]job.Bid, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/deployments/"+deploymentID+"/bids", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Bids []bidEntry `json:"bids"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	bids := make([]job.Bid, 0, len(result.Bids))
	for _, b := range result.Bids {
		bids = append(bids, b.toBid())
	}
	return bids, nil
}

// AcceptBid accepts one bid and returns the resulting lease.
func (c *HTTPClient) AcceptBid(ctx context.Context, deploymentID, bidID string, m *manifest.Manifest) (*job.Lease, error) {
	body, err := json.Marshal(map[string]any{"manifest": m})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	resp, err := c.makeRequest(ctx, http.MethodPost, "/deployments/"+deploymentID+"/bids/"+bidID+"/accept", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Lease *leaseEntry `json:"lease"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Lease == nil {
		return nil, fmt.Errorf("marketplace returned no lease")
	}

	return result.Lease.toLease(), nil
}

// CloseDeployment tears down a deployment. Closing an already-closed or
// unknown deployment returns ErrDeploymentClosed.
func (c *HTTPClient) CloseDeployment(ctx context.Context, deploymentID string) error {
	_, err := c.makeRequest(ctx, http.MethodDelete, "/deployments/"+deploymentID, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && (apiErr.status == http.StatusNotFound || apiErr.status == http.StatusConflict) {
		return ErrDeploymentClosed
	}
	return err
}

// HealthCheck checks that the marketplace gateway is reachable.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	_, err := c.makeRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("marketplace health check failed: %w", err)
	}
	return nil
}

// apiError carries the HTTP status of a failed marketplace call.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.status, e.body)
}

// makeRequest makes an HTTP request to the marketplace gateway.
func (c *HTTPClient) makeRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
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
		return nil, &apiError{status: resp.StatusCode, body: string(respBody)}
	}

	return respBody, nil
}
