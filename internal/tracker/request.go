package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/danielkov/hireloop/internal/retry"

	"go.uber.org/zap"
)

const contentType = "application/json"

// StatusError reports a non-2xx response from the tracker API.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status: %s", e.Status)
}

// ItemResponse is the envelope the tracker wraps around list endpoints.
type ItemResponse struct {
	Items []Item
}

type Item interface{}

// GetItems makes a GET request to the tracker API and returns the raw items.
func (c *Client) GetItems(ctx context.Context, u string, q url.Values) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	req = c.setHeaders(req)
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	var response ItemResponse
	if err := c.do(req, &response); err != nil {
		return nil, err
	}

	return response.Items, nil
}

func (c *Client) getJSON(ctx context.Context, u string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	return c.do(c.setHeaders(req), target)
}

func (c *Client) sendJSON(ctx context.Context, method, u string, payload, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}

	return c.do(c.setHeaders(req), target)
}

// Download fetches raw bytes from the given URL with the client's credentials.
// Attachment URLs require the same bearer token as the API itself.
func (c *Client) Download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(c.setHeaders(req))
	if err != nil {
		return nil, retry.Retryable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request, target interface{}) error {
	c.logger.Debug("make request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Connection-level failures are worth another attempt.
		return retry.Retryable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if target == nil {
		return nil
	}

	return json.Unmarshal(data, target)
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Content-Type", contentType)

	return req
}

// statusError classifies 5xx responses as retryable; 4xx responses fail fast.
func statusError(resp *http.Response) error {
	err := &StatusError{Code: resp.StatusCode, Status: resp.Status}
	if resp.StatusCode >= http.StatusInternalServerError {
		return retry.Retryable(err)
	}
	return err
}
