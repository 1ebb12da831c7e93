package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/planmesh/backend/internal/models"
)

// HTTPConfig holds HTTP transport configuration.
type HTTPConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// HTTPTransport talks to the PlanMesh cloud sync endpoint over HTTP JSON.
type HTTPTransport struct {
	config     *HTTPConfig
	httpClient *http.Client
}

// NewHTTPTransport creates an HTTPTransport. The client timeout bounds
// every push so a hung remote endpoint cannot block sync cycles forever.
func NewHTTPTransport(config *HTTPConfig) *HTTPTransport {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPTransport{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Push implements Transport.
func (t *HTTPTransport) Push(ctx context.Context, deviceID string, cursor int64, changes []models.ChangeRecord) (*PushResponse, error) {
	body, err := json.Marshal(PushRequest{
		DeviceID: deviceID,
		Cursor:   cursor,
		Changes:  changes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync request: %w", err)
	}

	url := t.config.BaseURL + "/v1/sync"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.AuthToken)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sync failed with status %d: %s", resp.StatusCode, string(snippet))
	}

	var pushResp PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}

	return &pushResp, nil
}
