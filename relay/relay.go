// Package relay sends best-effort outbound notifications about new chat
// posts to an external endpoint. Failures are swallowed: the relay never
// affects the post creation that triggered it.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/loamlabs/shoutbox/telemetry"
)

// Client posts {current_user, message} JSON to a configured endpoint.
type Client struct {
	enabled  bool
	endpoint string
	http     *http.Client
}

// New builds a relay client. A disabled client is valid and does nothing.
func New(enabled bool, endpoint string) *Client {
	return &Client{
		enabled:  enabled,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether the relay is configured to fire.
func (c *Client) Enabled() bool { return c.enabled && c.endpoint != "" }

// Notify delivers the message. Any failure is logged and counted, never
// returned.
func (c *Client) Notify(ctx context.Context, username, message string) {
	if !c.Enabled() {
		return
	}
	body, err := json.Marshal(map[string]string{
		"current_user": username,
		"message":      message,
	})
	if err != nil {
		c.fail(ctx, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.fail(ctx, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		telemetry.IncCounter(telemetry.RelayFailures)
		telemetry.LoggerWithCorr(ctx).Warn("relay rejected notification",
			slog.Int("status", resp.StatusCode), slog.String("endpoint", c.endpoint))
	}
}

func (c *Client) fail(ctx context.Context, err error) {
	telemetry.IncCounter(telemetry.RelayFailures)
	telemetry.LoggerWithCorr(ctx).Warn("relay notification failed",
		slog.String("endpoint", c.endpoint), slog.Any("err", err))
}
