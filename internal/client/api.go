package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"sheetsync/internal/core"
	"sheetsync/internal/retry"
	"sheetsync/internal/services"
)

const (
	readPath  = "/api/sheets/read"
	writePath = "/api/sheets/write"
)

// APIError is a non-success answer from the sync service.
type APIError struct {
	Status  int
	Message string

	write bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sync service returned %d: %s", e.Status, e.Message)
}

// Transient lets the retry loop try again on throttling and server errors.
// A failed write is retried only when the service cannot have applied it.
func (e *APIError) Transient() bool {
	if e.write {
		return retry.IsRetryableWriteStatus(e.Status)
	}
	return retry.IsTransientStatus(e.Status)
}

// APIClient talks to the two sync endpoints over HTTP.
type APIClient struct {
	baseURL string
	http    *http.Client
	policy  retry.Policy
}

var _ Remote = (*APIClient)(nil)

// NewAPIClient creates a client for the service at baseURL. A nil
// httpClient gets a pooled client with bounded timeouts.
func NewAPIClient(baseURL string, httpClient *http.Client, policy retry.Policy) *APIClient {
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		policy:  policy,
	}
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func (c *APIClient) Read(ctx context.Context) (services.Snapshot, error) {
	return retry.Value(ctx, c.policy, "read snapshot", func(ctx context.Context) (services.Snapshot, error) {
		var snap services.Snapshot
		status, body, err := c.post(ctx, readPath, nil)
		if err != nil {
			return snap, err
		}
		if status != http.StatusOK {
			return snap, apiError(status, body)
		}
		if err := json.Unmarshal(body, &snap); err != nil {
			return snap, fmt.Errorf("decode snapshot: %w", err)
		}
		snap.Dataset = snap.Dataset.WithEmptyCollections()
		return snap, nil
	})
}

// Write submits the working set. A conflict is an outcome, not an error;
// a rejected payload comes back as *core.ValidationError.
func (c *APIClient) Write(ctx context.Context, set services.WriteSet) (services.WriteResult, error) {
	payload, err := json.Marshal(set)
	if err != nil {
		return services.WriteResult{}, fmt.Errorf("encode working set: %w", err)
	}

	return retry.Value(ctx, c.policy, "write working set", func(ctx context.Context) (services.WriteResult, error) {
		status, body, err := c.post(ctx, writePath, payload)
		if err != nil {
			return services.WriteResult{}, err
		}

		switch status {
		case http.StatusOK:
			return services.WriteResult{Outcome: services.OutcomeAcknowledged}, nil
		case http.StatusConflict:
			var resp struct {
				Conflicts services.Conflicts `json:"conflicts"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return services.WriteResult{}, fmt.Errorf("decode conflicts: %w", err)
			}
			return services.WriteResult{Outcome: services.OutcomeConflict, Conflicts: resp.Conflicts}, nil
		case http.StatusBadRequest:
			var resp struct {
				Details []core.FieldError `json:"details"`
			}
			if err := json.Unmarshal(body, &resp); err == nil && len(resp.Details) > 0 {
				return services.WriteResult{}, &core.ValidationError{Details: resp.Details}
			}
			return services.WriteResult{}, writeError(status, body)
		default:
			return services.WriteResult{}, writeError(status, body)
		}
	})
}

func (c *APIClient) post(ctx context.Context, path string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return resp.StatusCode, nil, retry.Transient(fmt.Errorf("read response: %w", err))
	}
	return resp.StatusCode, body, nil
}

func writeError(status int, body []byte) error {
	err := apiError(status, body)
	err.write = true
	return err
}

func apiError(status int, body []byte) *APIError {
	var resp struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		msg = resp.Error
	}
	return &APIError{Status: status, Message: msg}
}
