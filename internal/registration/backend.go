package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Registration is one device-token upsert sent to the server.
type Registration struct {
	UserID     string `json:"userId"`
	Token      string `json:"token"`
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	AppVersion string `json:"appVersion"`
	IsLoggedIn bool   `json:"isLoggedIn"`
}

// Backend is the server surface the device talks to.
type Backend interface {
	RegisterToken(ctx context.Context, reg Registration) error
	Login(ctx context.Context, userID, deviceID string) error
	Logout(ctx context.Context, userID, deviceID string) error
}

// HTTPBackend calls the bloodlink API.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates an HTTPBackend. A zero timeout means 15 seconds.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) RegisterToken(ctx context.Context, reg Registration) error {
	return b.post(ctx, "/v1/tokens", reg)
}

func (b *HTTPBackend) Login(ctx context.Context, userID, deviceID string) error {
	return b.post(ctx, "/v1/sessions/login", sessionBody{UserID: userID, DeviceID: deviceID})
}

func (b *HTTPBackend) Logout(ctx context.Context, userID, deviceID string) error {
	return b.post(ctx, "/v1/sessions/logout", sessionBody{UserID: userID, DeviceID: deviceID})
}

type sessionBody struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

func (b *HTTPBackend) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bloodlink-device/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s returned non-2xx status: %d, body: %s", path, resp.StatusCode, string(preview))
	}

	// A 2xx only counts once the server acknowledges it.
	var ack struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(preview, &ack); err != nil {
		return fmt.Errorf("POST %s: decode acknowledgement: %w", path, err)
	}
	if !ack.Success {
		return fmt.Errorf("POST %s not acknowledged: %s", path, ack.Message)
	}
	return nil
}
