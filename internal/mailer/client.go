package mailer

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

const apiURL = "https://api.mail.example.com/v1"

// Message is one outbound transactional email.
type Message struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"text"`
	ReplyTo    string   `json:"reply_to,omitempty"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`
}

// EmailSender delivers a message and returns the provider's message id.
type EmailSender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Client talks to the transactional email provider.
type Client struct {
	apiKey string
	logger *zap.Logger

	HTTPClient *http.Client
	APIURL     string
}

func NewClient(logger *zap.Logger, apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) Send(ctx context.Context, msg *Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/emails", c.APIURL), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("send email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", retry.Retryable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", retry.Retryable(err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", retry.Retryable(fmt.Errorf("bad status: %s", resp.Status))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", err
	}

	return result.ID, nil
}
