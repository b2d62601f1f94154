package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"neurolink/config"
	"neurolink/models"

	"go.uber.org/zap"
)

// BridgeAPIClient wraps the bridge's REST surface for non-streaming
// commands. The calls are opaque: the supervisor issues them on the
// user's behalf but never takes their success as truth about device or
// streaming state; that is always re-derived from the data plane.
type BridgeAPIClient struct {
	logger     *zap.Logger
	baseURL    string
	httpClient *http.Client
}

// NewBridgeAPIClient creates a client for the configured REST base URL.
func NewBridgeAPIClient(cfg *config.Config, logger *zap.Logger) *BridgeAPIClient {
	return &BridgeAPIClient{
		logger:  logger,
		baseURL: cfg.BridgeAPIURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Ping probes REST reachability with a short deadline. Used as the
// "api" input of the connection monitor.
func (c *BridgeAPIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.doJSON(ctx, http.MethodGet, "/api/v1/stream/status", nil, nil)
}

// ScanDevices asks the bridge to scan for nearby devices.
func (c *BridgeAPIClient) ScanDevices(ctx context.Context) ([]models.DeviceInfo, error) {
	var out struct {
		Devices []models.DeviceInfo `json:"devices"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/device/scan", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// ConnectDevice asks the bridge to connect to a device by address.
func (c *BridgeAPIClient) ConnectDevice(ctx context.Context, address string) error {
	body := map[string]string{"address": address}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/device/connect", body, nil)
}

// DisconnectDevice asks the bridge to drop the current device.
func (c *BridgeAPIClient) DisconnectDevice(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/device/disconnect", nil, nil)
}

// StartStream requests streaming start. The streaming detector, not
// this call, decides when streaming is actually active.
func (c *BridgeAPIClient) StartStream(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/stream/start", nil, nil)
}

// StopStream requests streaming stop.
func (c *BridgeAPIClient) StopStream(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/stream/stop", nil, nil)
}

// StartRecording asks the bridge to begin persisting the stream.
func (c *BridgeAPIClient) StartRecording(ctx context.Context, sessionName string) error {
	body := map[string]string{"session_name": sessionName}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/recording/start", body, nil)
}

// StopRecording ends the active recording session.
func (c *BridgeAPIClient) StopRecording(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/recording/stop", nil, nil)
}

// RecordingStatus fetches the bridge's view of the recording state.
func (c *BridgeAPIClient) RecordingStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/recording/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordingSessions lists the sessions the bridge has stored.
func (c *BridgeAPIClient) RecordingSessions(ctx context.Context) ([]map[string]any, error) {
	var out struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/recording/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *BridgeAPIClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = bytes.NewBuffer(data)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "NeuroLink-Supervisor/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("bridge API request failed",
			zap.String("url", endpoint),
			zap.Error(err))
		return fmt.Errorf("bridge API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("bridge API returned error",
			zap.String("url", endpoint),
			zap.Int("status_code", resp.StatusCode))
		return fmt.Errorf("bridge API error: %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
