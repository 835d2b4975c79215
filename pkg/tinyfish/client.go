// Package tinyfish is a client for the TinyFish web-automation agent API.
// The agent accepts a target URL plus a natural-language extraction goal and
// returns structured JSON, either synchronously or as a background run that
// is polled to a terminal status.
package tinyfish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/costscan-cli/internal/resilience"
)

// Default base URL for the TinyFish API.
const defaultBaseURL = "https://api.tinyfish.ai/v1"

// RunStatus is the lifecycle state of a background run.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Client defines the TinyFish agent operations used by the scanners and the
// async coordinator.
type Client interface {
	// Run executes an extraction goal synchronously.
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	// RunAsync submits an extraction goal as a background run.
	RunAsync(ctx context.Context, req RunRequest) (*RunHandle, error)
	// GetRun fetches the current state of a background run.
	GetRun(ctx context.Context, runID string) (*Run, error)
}

// RunRequest is the body for POST /runs and POST /runs/async.
type RunRequest struct {
	URL  string `json:"url"`
	Goal string `json:"goal"`
}

// RunResult is the response from a synchronous run. Result holds whatever
// JSON the agent extracted; callers coerce it defensively.
type RunResult struct {
	Result json.RawMessage `json:"result"`
}

// RunHandle is the response from POST /runs/async. A missing RunID with a
// populated Error means the submission itself failed.
type RunHandle struct {
	RunID string    `json:"run_id"`
	Error *RunError `json:"error,omitempty"`
}

// Run is the response from GET /runs/{id}.
type Run struct {
	Status RunStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RunError       `json:"error,omitempty"`
}

// RunError is the agent's error detail shape.
type RunError struct {
	Message string `json:"message"`
}

// APIError is returned when TinyFish responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tinyfish: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles outgoing requests. Zero or negative rps disables
// throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithRetry overrides the retry policy for transient failures (429, 5xx,
// network errors). Pillar tasks themselves are never re-submitted; only the
// underlying HTTP exchange is retried.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new TinyFish client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	var resp RunResult
	if err := c.post(ctx, "/runs", req, &resp); err != nil {
		return nil, eris.Wrap(err, "tinyfish: run")
	}
	return &resp, nil
}

func (c *httpClient) RunAsync(ctx context.Context, req RunRequest) (*RunHandle, error) {
	var resp RunHandle
	if err := c.post(ctx, "/runs/async", req, &resp); err != nil {
		return nil, eris.Wrap(err, "tinyfish: run async")
	}
	return &resp, nil
}

func (c *httpClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	var resp Run
	if err := c.get(ctx, fmt.Sprintf("/runs/%s", runID), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tinyfish: get run %s", runID))
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	return c.do(ctx, http.MethodPost, path, buf, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do executes one request with rate limiting and transient-error retry. The
// body is retained so each attempt gets a fresh reader.
func (c *httpClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	data, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limit wait")
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "execute request")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read response body")
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
			}
			return nil, apiErr
		}

		return data, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
