// Package httpclient provides the shared HTTP client used by the directory
// and platform API clients.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (20MB)
	MaxResponseSize = 20 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "entrasync/1.0"

	// maxRetries bounds transient-failure retries on read requests
	maxRetries = 4
)

// Client is an interface for JSON HTTP operations
type Client interface {
	// GetJSON performs a GET request and decodes the JSON response into out.
	// Transient failures (429 and 5xx) are retried with exponential backoff.
	GetJSON(ctx context.Context, url string, headers map[string]string, out any) error

	// PatchJSON performs a PATCH request with a JSON body and decodes the
	// response into out. Never retried: a patch that failed mid-flight must
	// not be replayed blindly.
	PatchJSON(ctx context.Context, url string, headers map[string]string, body, out any) error

	// PostForm performs a form-encoded POST and decodes the JSON response
	// into out. Used for token endpoints.
	PostForm(ctx context.Context, url string, form map[string]string, out any) error
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a new default HTTP client with the specified
// timeout. If timeout is 0, uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetJSON performs an HTTP GET request with retry on transient failures
func (c *DefaultClient) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	operation := func() ([]byte, error) {
		body, err := c.do(ctx, http.MethodGet, url, headers, nil)
		if err != nil {
			if isRetryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxRetries))
	if err != nil {
		return err
	}

	return decode(body, url, out)
}

// PatchJSON performs an HTTP PATCH request with a JSON body
func (c *DefaultClient) PatchJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	if headers == nil {
		headers = make(map[string]string)
	}
	headers["Content-Type"] = "application/json"

	respBody, err := c.do(ctx, http.MethodPatch, url, headers, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	return decode(respBody, url, out)
}

// PostForm performs a form-encoded HTTP POST request
func (c *DefaultClient) PostForm(ctx context.Context, requestURL string, form map[string]string, out any) error {
	values := url.Values{}
	for key, value := range form {
		values.Set(key, value)
	}

	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}

	body, err := c.do(ctx, http.MethodPost, requestURL, headers, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}

	return decode(body, requestURL, out)
}

// do executes one request and returns the response body
func (c *DefaultClient) do(ctx context.Context, method, url string, headers map[string]string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Read the body before the status check so error responses can carry
	// the server's message.
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	respBody, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(respBody)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := resp.Status
		if len(respBody) > 0 {
			message = fmt.Sprintf("%s: %s", resp.Status, truncate(string(respBody), 512))
		}
		return nil, NewHTTPError(resp.StatusCode, url, message)
	}

	return respBody, nil
}

// decode unmarshals a JSON body into out, tolerating empty responses
func decode(body []byte, url string, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// isRetryable reports whether an error is a transient HTTP failure
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		// Network-level failures are retryable
		return true
	}
	return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
