// Package tracker is a client for the issue-tracking service that acts as the
// system of record for candidates and job postings. All workflow state lives
// there; this process keeps nothing between webhook deliveries.
package tracker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL    = "https://api.tracker.example.com/v1"
	userAgent = "hireloop (github.com/danielkov/hireloop)"
)

type Client struct {
	token  string
	logger *zap.Logger

	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, token string) *Client {
	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}
