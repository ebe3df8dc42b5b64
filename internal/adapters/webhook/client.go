// Package webhook posts JSON notifications to other oracles.
package webhook

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/target/job-launcher/internal/domain/signature"
)

const maxResponseBytes = 64 << 10

var (
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("webhook returned non-success status")
	// ErrEmptyResponse is returned when the receiver acknowledges with no body.
	ErrEmptyResponse = errors.New("webhook returned an empty body")
)

// Config captures outbound webhook behaviour.
type Config struct {
	Timeout time.Duration
	// SigningKey, when set, signs every body and sends the signature in SignatureHeader.
	SigningKey      *ecdsa.PrivateKey
	SignatureHeader string
	Client          *http.Client
	Logger          *slog.Logger
}

// Client delivers webhook payloads. It does not retry.
type Client struct {
	client *http.Client
	key    *ecdsa.PrivateKey
	header string
	logger *slog.Logger
}

// NewClient builds a webhook client.
func NewClient(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	header := strings.TrimSpace(cfg.SignatureHeader)
	if cfg.SigningKey != nil && header == "" {
		return nil, errors.New("signature header is required when signing webhooks")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client: hc,
		key:    cfg.SigningKey,
		header: header,
		logger: logger.With("component", "webhook_client"),
	}, nil
}

// Send POSTs payload as JSON to url. A non-2xx status or an empty response
// body is a delivery failure.
func (c *Client) Send(ctx context.Context, url string, payload any) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook url is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != nil {
		sig, signErr := signature.Sign(body, c.key)
		if signErr != nil {
			return fmt.Errorf("sign webhook payload: %w", signErr)
		}
		req.Header.Set(c.header, sig)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode,
			strings.TrimSpace(string(respBody)))
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return ErrEmptyResponse
	}

	c.logger.DebugContext(ctx, "webhook delivered",
		"url", url, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
