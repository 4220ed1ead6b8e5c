package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/phonehub/phonehub/pkg/circuitbreaker"
	"github.com/phonehub/phonehub/pkg/metrics"
	"github.com/phonehub/phonehub/pkg/retry"
)

// HTTPClient wraps http.Client with retry and circuit breaker
type HTTPClient struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	serviceName    string
}

// NewHTTPClient creates a new HTTP client with retry and circuit breaker
func NewHTTPClient(serviceName string, timeout time.Duration) *HTTPClient {
	cb := circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(_, to circuitbreaker.State) {
		metrics.UpdateCircuitBreaker(serviceName, int(to))
	})
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		circuitBreaker: cb,
		retryConfig:    retry.DefaultConfig(),
		serviceName:    serviceName,
	}
}

// WithRetry replaces the retry policy.
func (c *HTTPClient) WithRetry(cfg retry.Config) *HTTPClient {
	c.retryConfig = cfg
	return c
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// PostJSON posts body as JSON with an optional bearer token. Server errors
// and transport failures are retried; client errors are not. The response
// body is drained and closed.
func (c *HTTPClient) PostJSON(ctx context.Context, url, bearer string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	start := time.Now()
	err = c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return retry.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")
			if bearer != "" {
				req.Header.Set("Authorization", "Bearer "+bearer)
			}

			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

			if resp.StatusCode >= 500 {
				return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
			}
			if resp.StatusCode >= 400 {
				return retry.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(snippet)})
			}
			return nil
		})
	})

	metrics.RecordServiceCall(c.serviceName, err == nil, time.Since(start))
	return err
}

// Stats reports the breaker guarding this client.
func (c *HTTPClient) Stats() circuitbreaker.Stats {
	return c.circuitBreaker.GetStats()
}
