// Package notify sends ntfy alerts when the upstream goes down or recovers.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending upstream availability alerts.
type Notifier interface {
	UpstreamDown(ctx context.Context, o Outage) error
	UpstreamRecovered(ctx context.Context, o Outage, recoveredAt time.Time) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// UpstreamDown sends an outage notification.
func (c *Client) UpstreamDown(ctx context.Context, o Outage) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Logo upstream down"
	message := FormatDownMessage(o)
	tags := c.config.Tags + ",x"
	priority := "high" // Override to high priority for outages

	return c.send(ctx, title, message, tags, priority)
}

// UpstreamRecovered sends a recovery notification.
func (c *Client) UpstreamRecovered(ctx context.Context, o Outage, recoveredAt time.Time) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Logo upstream recovered"
	message := FormatRecoveredMessage(o, recoveredAt)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// UpstreamDown is a no-op.
func (n *NoopNotifier) UpstreamDown(_ context.Context, _ Outage) error {
	return nil
}

// UpstreamRecovered is a no-op.
func (n *NoopNotifier) UpstreamRecovered(_ context.Context, _ Outage, _ time.Time) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
