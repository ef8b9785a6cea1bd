package eodhd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/allaspectsdev/screenman/internal/apperr"
	"github.com/allaspectsdev/screenman/internal/tracing"
)

// Client is a thin HTTP layer over the EODHD REST API. It shares one pooled
// transport across calls; symbol fan-outs hit the same host many times in
// parallel.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a Client for baseURL authenticating with token. timeout
// bounds each request.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// get fetches path with the auth params plus extra and returns the raw body.
// Every request carries api_token and fmt=json.
func (c *Client) get(ctx context.Context, path string, extra url.Values) ([]byte, error) {
	params := url.Values{}
	params.Set("api_token", c.token)
	params.Set("fmt", "json")
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}

	// The span URL excludes the query string: it carries the API token.
	ctx, span := tracing.StartUpstreamSpan(ctx, c.baseURL+path, ProviderID)
	defer span.End()

	target := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("eodhd: building request: %w", err)
	}
	tracing.InjectHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		err = apperr.Wrap(apperr.KindUpstream, "eodhd request failed", err)
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = apperr.Wrap(apperr.KindUpstream, "reading eodhd response", err)
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = apperr.New(apperr.KindUpstream, fmt.Sprintf("eodhd returned status %d for %s", resp.StatusCode, path))
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return body, nil
}
