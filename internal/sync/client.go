package sync

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
)

// ErrEmptyBatch is returned by PushBatch when called with no records.
var ErrEmptyBatch = errors.New("batch cannot be empty")

// CloudClient abstracts HTTP communication with the reconciliation backend.
// Implementations must be safe for concurrent use.
type CloudClient interface {
	// Health validates connectivity to the backend.
	Health(ctx context.Context) (*HealthResponse, error)

	// PushBatch uploads one entity type's pending records. The backend
	// either accepts the whole batch or rejects it; partial acceptance
	// does not occur.
	PushBatch(ctx context.Context, entity string, records []map[string]any) (*PushResponse, error)
}

// APIError describes a failed request to the reconciliation backend.
type APIError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed (HTTP %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newAPIError(op string, statusCode int, body []byte) *APIError {
	msg := ""
	if len(body) > 0 {
		if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &APIError{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

// HTTPClient implements CloudClient using net/http.
type HTTPClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewHTTPClient creates a new backend HTTP client.
func NewHTTPClient(baseURL, apiToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	req.Header.Set("User-Agent", "agrosync-client/1.0")
}

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, &APIError{Operation: "health", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Operation: "health", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newAPIError("health", resp.StatusCode, body)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, &APIError{Operation: "health", Err: err}
	}

	return &health, nil
}

func (c *HTTPClient) PushBatch(ctx context.Context, entity string, records []map[string]any) (*PushResponse, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}

	body, err := json.Marshal(records)
	if err != nil {
		return nil, &APIError{Operation: "push", Err: err}
	}

	url := fmt.Sprintf("%s/api/v1/%s/sync", c.baseURL, entity)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Operation: "push", Err: err}
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{Operation: "push", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, newAPIError("push", resp.StatusCode, respBody)
	}

	var result PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &APIError{Operation: "push", Err: err}
	}

	if !result.Success {
		return nil, &APIError{
			Operation:  "push",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("backend rejected batch: %s", result.Error),
		}
	}

	return &result, nil
}
