package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/auth"
	"github.com/stationtracker/tracker-core-go/internal/models"
)

const (
	maxAttempts = 3
	retryDelay  = 2 * time.Second
)

// Client talks to the remote event sink: batched geofence events and
// best-effort visit records.
type Client struct {
	baseURL      string
	deviceID     string
	deviceSecret string // optional, enables the Authorization header
	httpClient   *http.Client
	logr         *zap.Logger
}

// NewClient creates a sink client. timeout bounds each request attempt.
func NewClient(baseURL, deviceID, deviceSecret string, timeout time.Duration, logr *zap.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		deviceID:     deviceID,
		deviceSecret: deviceSecret,
		httpClient:   &http.Client{Timeout: timeout},
		logr:         logr,
	}
}

// SendBatch delivers a batch of geofence events, retrying transient failures.
// Success requires a 2xx status and success=true in the body; anything else
// is a delivery failure and the batch stays queued.
func (c *Client) SendBatch(ctx context.Context, events []models.PendingSyncEvent) error {
	return c.post(ctx, "/geofence-events", models.SyncBatch{Events: events})
}

// CreateVisit records a station visit. Best-effort from the caller's point of
// view; the error is for logging only.
func (c *Client) CreateVisit(ctx context.Context, visit models.StationVisit) error {
	return c.post(ctx, "/station-visits", visit)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		lastErr = c.doPost(ctx, path, body)
		if lastErr == nil {
			return nil
		}
		c.logr.Debug("sink request failed",
			zap.String("path", path), zap.Int("attempt", attempt), zap.Error(lastErr))
	}

	return fmt.Errorf("sink request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doPost(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.deviceSecret != "" {
		token, err := auth.GenerateDeviceToken(c.deviceSecret, c.deviceID)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var ack models.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("sink rejected request: %s", ack.Message)
	}

	return nil
}
