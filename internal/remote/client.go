// Package remote implements the HTTP contract between the choreographer and
// registered executors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgefleet/choreo/pkg/schema"
)

// Response status values reported by executors.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ExecutionRequest is sent to an executor to run one step attempt.
type ExecutionRequest struct {
	SessionID     string            `json:"session_id"`
	SessionStepID string            `json:"session_step_id"`
	Step          string            `json:"step"`
	Service       schema.Capability `json:"service"`
	Params        map[string]string `json:"params,omitempty"`
}

// ExecutionResponse is the executor's outcome report.
type ExecutionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AbortRequest asks an executor to stop a running step attempt. Delivery is
// best-effort; executors that do not support cancellation ignore it.
type AbortRequest struct {
	SessionID     string `json:"session_id"`
	SessionStepID string `json:"session_step_id"`
}

// Client issues execution and abort calls against an executor's base URL.
type Client interface {
	Execute(ctx context.Context, baseURL string, req *ExecutionRequest) (*ExecutionResponse, error)
	Abort(ctx context.Context, baseURL string, req *AbortRequest) error
}

const (
	defaultMaxResponseBody = 1 * 1024 * 1024 // 1MB
	defaultTimeout         = 60 * time.Second
)

// HTTPClient is the production Client over net/http.
type HTTPClient struct {
	client          *http.Client
	maxResponseBody int64
}

// NewHTTPClient creates an HTTPClient with the given per-call default timeout.
// Callers usually pass a tighter deadline via ctx.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		client:          &http.Client{Timeout: timeout},
		maxResponseBody: defaultMaxResponseBody,
	}
}

// Execute POSTs the execution request to <baseURL>/execute and decodes the
// outcome. A non-2xx status or an undecodable body is an execution error; a
// well-formed failure report is returned as a response, not an error.
func (c *HTTPClient) Execute(ctx context.Context, baseURL string, req *ExecutionRequest) (*ExecutionResponse, error) {
	body, err := c.post(ctx, baseURL+"/execute", req)
	if err != nil {
		return nil, err
	}

	var resp ExecutionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"executor returned malformed response: %s", err.Error()).WithCause(err)
	}
	if resp.Status != StatusSuccess && resp.Status != StatusFailure {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"executor returned unknown status %q", resp.Status)
	}
	return &resp, nil
}

// Abort POSTs a cancellation request to <baseURL>/abort.
func (c *HTTPClient) Abort(ctx context.Context, baseURL string, req *AbortRequest) error {
	_, err := c.post(ctx, baseURL+"/abort", req)
	return err
}

func (c *HTTPClient) post(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "build request: %s", err.Error()).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "executor call timed out: %s", url).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "executor call failed: %s", err.Error()).WithCause(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read executor response: %s", err.Error()).WithCause(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"executor returned HTTP %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BaseURL builds an executor's HTTP base URL from its registration record.
func BaseURL(address string, port int, baseURI string) string {
	return fmt.Sprintf("http://%s:%d%s", address, port, baseURI)
}
