package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// apiClient is the shared HTTP layer for all providers.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := &http.Transport{
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// getJSON performs an authenticated GET and returns the raw JSON body.
// The payload stays opaque here; each provider decodes what it needs.
func (c *apiClient) getJSON(ctx context.Context, endpoint string) (json.RawMessage, error) {
	url := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"url":   url,
			"error": err,
		}).Debug("API request failed")
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"url":    url,
			"status": resp.StatusCode,
		}).Debug("API returned non-200 status")
		return nil, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%s returned invalid JSON", endpoint)
	}
	return json.RawMessage(body), nil
}
