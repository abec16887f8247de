package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smukkama/aqi-alerts/internal/protocol"
)

// Client posts comparison requests to the advisory text service.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates an advisory client. A zero timeout defaults to 45s.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Compare returns the advisory text for a comparison request.
func (c *Client) Compare(ctx context.Context, request protocol.CompareRequest) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("advisory error: status %d: %s", resp.StatusCode, string(respBody))
	}

	parsed, err := protocol.DecodeCompareResponse(respBody)
	if err != nil {
		return "", err
	}
	return parsed.AIAnalysis, nil
}
