package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient talks to a remote device-communication service over JSON/HTTP.
// Each call is a short-lived round trip with its own timeout, distinct from
// any higher-level action timeout.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a gateway client for the service at endpoint
// (e.g. http://localhost:9090). requestTimeout bounds every round trip.
func NewHTTPClient(endpoint string, requestTimeout time.Duration) *HTTPClient {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type readRequest struct {
	DeviceID int64   `json:"device_id"`
	Address  string  `json:"address"`
	Parsed   Address `json:"parsed"`
}

type writeRequest struct {
	DeviceID int64   `json:"device_id"`
	Address  string  `json:"address"`
	Parsed   Address `json:"parsed"`
	Value    string  `json:"value"`
}

type connectRequest struct {
	DeviceID int64 `json:"device_id"`
}

type statusResponse struct {
	Online bool   `json:"online"`
	Error  string `json:"error,omitempty"`
}

func (c *HTTPClient) Read(ctx context.Context, deviceID int64, address string) (ReadResult, error) {
	var res ReadResult
	err := c.post(ctx, "/read", readRequest{DeviceID: deviceID, Address: address, Parsed: ParseAddress(address)}, &res)
	if err != nil {
		return ReadResult{}, err
	}
	return res, nil
}

func (c *HTTPClient) Write(ctx context.Context, deviceID int64, address, value string) (WriteResult, error) {
	var res WriteResult
	err := c.post(ctx, "/write", writeRequest{DeviceID: deviceID, Address: address, Parsed: ParseAddress(address), Value: value}, &res)
	if err != nil {
		return WriteResult{}, err
	}
	return res, nil
}

func (c *HTTPClient) Connect(ctx context.Context, deviceID int64) error {
	var res WriteResult
	if err := c.post(ctx, "/connect", connectRequest{DeviceID: deviceID}, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("connect device %d: %s", deviceID, res.Error)
	}
	return nil
}

func (c *HTTPClient) Status(ctx context.Context, deviceID int64) (bool, error) {
	url := fmt.Sprintf("%s/status?device_id=%d", c.endpoint, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("gateway status: %s", resp.Status)
	}
	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return false, fmt.Errorf("decode status response: %w", err)
	}
	return sr.Online, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
