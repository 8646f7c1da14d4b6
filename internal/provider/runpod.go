package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/logging/logger"
)

// RunPodClient talks to a RunPod-style serverless endpoint.
type RunPodClient struct {
	apiKey     string
	endpointID string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewRunPodClient creates the network-backed client.
func NewRunPodClient(cfg *config.Provider) *RunPodClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &RunPodClient{
		apiKey:     cfg.APIKey,
		endpointID: cfg.EndpointID,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "compute-provider",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Available reports whether the client is configured.
func (c *RunPodClient) Available() bool {
	return c.apiKey != "" && c.endpointID != ""
}

// Submit sends a prepared request and returns the provider's job id.
func (c *RunPodClient) Submit(ctx context.Context, req *Request) (string, error) {
	body, err := json.Marshal(map[string]any{"input": req})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("%s/%s/run", c.baseURL, c.endpointID)
	if err := c.do(ctx, http.MethodPost, url, body, &result); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("submit job: provider returned no id")
	}
	return result.ID, nil
}

// Status polls one job. A 404 from the provider yields (nil, nil).
func (c *RunPodClient) Status(ctx context.Context, externalID string) (*JobStatus, error) {
	var status JobStatus
	url := fmt.Sprintf("%s/%s/status/%s", c.baseURL, c.endpointID, externalID)
	err := c.do(ctx, http.MethodGet, url, nil, &status)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return &status, nil
}

// Cancel requests cancellation on the provider.
func (c *RunPodClient) Cancel(ctx context.Context, externalID string) bool {
	url := fmt.Sprintf("%s/%s/cancel/%s", c.baseURL, c.endpointID, externalID)
	if err := c.do(ctx, http.MethodPost, url, nil, nil); err != nil {
		logger.Warnf(ctx, "cancel %s on provider failed: %v", externalID, err)
		return false
	}
	return true
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

// do performs one HTTP call through the circuit breaker.
func (c *RunPodClient) do(ctx context.Context, method, url string, body []byte, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = res.Body.Close() }()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			return nil, &statusError{code: res.StatusCode, body: string(b)}
		}
		if out != nil {
			if err := json.NewDecoder(res.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
