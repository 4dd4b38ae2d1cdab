// Package billing is a client for the subscription and metering provider.
// Benefit lookups fail closed: when the provider cannot answer, the caller
// must behave as if the benefit was not granted.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danielkov/hireloop/internal/retry"

	"go.uber.org/zap"
)

const apiURL = "https://api.billing.example.com/v1"

// Benefit identifiers known to the subscription plans.
const (
	BenefitEmailCommunication = "email_communication"
	BenefitAIScreening        = "ai_screening"
)

type Client struct {
	apiKey string
	logger *zap.Logger

	HTTPClient *http.Client
	APIURL     string
}

func New(logger *zap.Logger, apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Balance is the provider's view of a tenant's remaining metered capacity.
type Balance struct {
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

func (c *Client) GetBalance(ctx context.Context, tenant, meter string) (*Balance, error) {
	var balance Balance
	u := fmt.Sprintf("%s/tenants/%s/meters/%s/balance", c.APIURL, tenant, meter)
	if err := c.getJSON(ctx, u, &balance); err != nil {
		return nil, err
	}

	return &balance, nil
}

// IngestUsageEvent reports consumed units for later reconciliation. It does
// not gate anything; the reservation counter does.
func (c *Client) IngestUsageEvent(ctx context.Context, tenant, meter string, metadata map[string]string) error {
	payload := map[string]interface{}{
		"tenant":   tenant,
		"meter":    meter,
		"units":    1,
		"metadata": metadata,
	}

	return c.postJSON(ctx, fmt.Sprintf("%s/usage-events", c.APIURL), payload, nil)
}

// HasBenefit reports whether the tenant's plan grants the named benefit.
// Lookup errors are returned alongside false so callers fail closed.
func (c *Client) HasBenefit(ctx context.Context, tenant, benefit string) (bool, error) {
	var result struct {
		Granted bool `json:"granted"`
	}
	u := fmt.Sprintf("%s/tenants/%s/benefits/%s", c.APIURL, tenant, benefit)
	if err := c.getJSON(ctx, u, &result); err != nil {
		return false, err
	}

	return result.Granted, nil
}

func (c *Client) getJSON(ctx context.Context, u string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	return c.do(c.setHeaders(req), target)
}

func (c *Client) postJSON(ctx context.Context, u string, payload, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}

	return c.do(c.setHeaders(req), target)
}

func (c *Client) do(req *http.Request, target interface{}) error {
	c.logger.Debug("make billing request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return retry.Retryable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return retry.Retryable(fmt.Errorf("bad status: %s", resp.Status))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	return json.Unmarshal(data, target)
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	return req
}
