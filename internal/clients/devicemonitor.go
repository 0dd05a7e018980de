// Package clients holds thin HTTP clients for the director's sibling
// services.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DeviceMonitorClient talks to the device monitor service, which fronts
// physical controllers for command delivery and state queries.
type DeviceMonitorClient struct {
	baseURL string
	http    *http.Client
}

func NewDeviceMonitorClient(baseURL string, timeout time.Duration) *DeviceMonitorClient {
	return &DeviceMonitorClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SendCommand posts a command payload to a device.
func (c *DeviceMonitorClient) SendCommand(ctx context.Context, deviceID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal device command: %w", err)
	}

	u := c.baseURL + "/devices/" + url.PathEscape(deviceID) + "/command"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("device monitor returned %d for %s", resp.StatusCode, deviceID)
	}
	return nil
}

// DeviceState fetches a device's reported state.
func (c *DeviceMonitorClient) DeviceState(ctx context.Context, deviceID string) (map[string]any, error) {
	u := c.baseURL + "/devices/" + url.PathEscape(deviceID) + "/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("device monitor returned %d for %s", resp.StatusCode, deviceID)
	}

	var state map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode device state: %w", err)
	}
	return state, nil
}
