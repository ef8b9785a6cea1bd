package dataroma

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/allaspectsdev/screenman/internal/apperr"
	"github.com/allaspectsdev/screenman/internal/tracing"
)

// Client issues GET requests against the Dataroma site with a stable
// User-Agent. The scraper throttles itself, so the client needs no
// connection pooling tuning.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
}

// NewClient creates a Client for baseURL. timeout bounds each request.
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		userAgent: userAgent,
	}
}

// GetPage fetches one portfolio page and returns its HTML body. Non-2xx
// responses surface as upstream errors.
func (c *Client) GetPage(ctx context.Context, params url.Values) (string, error) {
	target := c.baseURL
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}

	ctx, span := tracing.StartUpstreamSpan(ctx, target, ProviderID)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("dataroma: building request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	tracing.InjectHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		err = apperr.Wrap(apperr.KindUpstream, "dataroma request failed", err)
		tracing.RecordError(ctx, err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = apperr.New(apperr.KindUpstream, fmt.Sprintf("dataroma returned status %d", resp.StatusCode))
		tracing.RecordError(ctx, err)
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = apperr.Wrap(apperr.KindUpstream, "reading dataroma response", err)
		tracing.RecordError(ctx, err)
		return "", err
	}
	return string(body), nil
}
