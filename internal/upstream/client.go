// Package upstream fetches the current logo from the upstream service.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/logowatch/internal/logo"
)

// maxBodySize caps the upstream document; the real payload is a few KiB.
const maxBodySize = 4 << 20

// Client interface for testability
type Client interface {
	Fetch(ctx context.Context) ([]byte, *logo.Logo, error)
}

type HTTPClient struct {
	httpClient *http.Client
	url        string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(url string, ratePerSec float64, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       10,
		MaxConnsPerHost:    2,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		url:     url,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		logger:  logger,
	}
}

// Fetch performs one GET and returns the canonical PNG with the decoded
// logo. It never retries; the caller decides when to try again.
func (c *HTTPClient) Fetch(ctx context.Context) ([]byte, *logo.Logo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fetchError(KindTransport, fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, nil, fetchError(KindTransport, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("fetching logo", zap.String("url", c.url))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fetchError(KindTransport, fmt.Errorf("executing request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fetchError(KindTransport, fmt.Errorf("reading body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, fetchError(KindStatus, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, nil, fetchError(KindStatus, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	l, err := logo.Parse(body)
	if err != nil {
		return nil, nil, fetchError(KindPayload, err)
	}

	image, err := l.PNG(logo.DefaultOptions())
	if err != nil {
		return nil, nil, fetchError(KindEncode, err)
	}
	return image, l, nil
}
