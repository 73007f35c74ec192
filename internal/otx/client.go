package otx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"otxsync/internal/metrics"
)

const (
	pulsesPath = "/api/v1/pulses/subscribed"
	userMePath = "/api/v1/users/me"

	apiKeyHeader = "X-OTX-API-KEY"
)

// ClientOptions configures the fetch client. Zero values fall back to
// the documented defaults.
type ClientOptions struct {
	BaseURL   string        // default https://otx.alienvault.com
	APIKey    string        // sent as X-OTX-API-KEY
	PageLimit int           // records per page, default 50
	Timeout   time.Duration // per-request timeout, default 30s

	MaxRetries     int           // attempts per page fetch, default 5
	BackoffBase    time.Duration // first retry delay, default 2s
	BackoffCeiling time.Duration // cap on a single delay, default 60s
}

func (o *ClientOptions) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://otx.alienvault.com"
	}
	if o.PageLimit <= 0 {
		o.PageLimit = 50
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffCeiling <= 0 {
		o.BackoffCeiling = 60 * time.Second
	}
}

// Client fetches subscribed pulses with bounded retry. It keeps no
// state between calls; retry counters live inside one FetchPage.
type Client struct {
	opts ClientOptions
	http *http.Client

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client with defaults applied.
func NewClient(opts ClientOptions) *Client {
	opts.defaults()
	return &Client{
		opts:  opts,
		http:  &http.Client{Timeout: opts.Timeout},
		sleep: sleepCtx,
	}
}

// PageLimit returns the effective per-page record limit.
func (c *Client) PageLimit() int { return c.opts.PageLimit }

// pageBody is the wire shape of a pulses listing response.
type pageBody struct {
	Results []Pulse `json:"results"`
	Next    string  `json:"next"`
	Count   int     `json:"count"`
}

// Account is the authenticated user record from /users/me.
type Account struct {
	Username       string `json:"username"`
	PulseCount     int    `json:"pulse_count"`
	IndicatorCount int    `json:"indicator_count"`
}

// ValidateKey checks the API key against /users/me before a run starts.
// Responses are classified like a page fetch: only 401/403 is ErrAuth;
// 429/5xx and transport errors get the same bounded retry, so a server
// blip is not reported to operators as a bad key.
func (c *Client) ValidateKey(ctx context.Context) (*Account, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			metrics.FetchRetries.Inc()
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		acct, err := c.validateOnce(ctx)
		if err == nil {
			return acct, nil
		}
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrClient) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		slog.Warn("key validation failed, will retry",
			"attempt", attempt, "max", c.opts.MaxRetries, "err", err)
	}
	return nil, errors.Mark(
		errors.Wrapf(lastErr, "key validation failed after %d attempts", c.opts.MaxRetries),
		ErrRetryExhausted)
}

func (c *Client) validateOnce(ctx context.Context) (*Account, error) {
	req, err := c.newRequest(ctx, c.opts.BaseURL+userMePath)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "users/me request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var acct Account
		if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
			return nil, errors.Wrap(err, "decode users/me response")
		}
		return &acct, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(ErrAuth, "users/me returned %d", resp.StatusCode)
	case Retryable(resp.StatusCode):
		return nil, errors.Newf("users/me retryable status %d: %s", resp.StatusCode, snippet(resp.Body))
	default:
		return nil, errors.Wrapf(ErrClient, "users/me returned %d: %s", resp.StatusCode, snippet(resp.Body))
	}
}

// FetchPage retrieves one page of the since-window. An empty cursor
// starts the listing; otherwise cursor is the continuation token from
// the previous page and is followed as-is. Retryable failures (429,
// 5xx, transport errors) are reattempted with exponential backoff up
// to MaxRetries; auth and other 4xx responses fail immediately.
func (c *Client) FetchPage(ctx context.Context, since time.Time, cursor string) (*Page, error) {
	target := cursor
	if target == "" {
		target = c.listURL(since)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			metrics.FetchRetries.Inc()
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		page, err := c.fetchOnce(ctx, target)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrClient) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		slog.Warn("page fetch failed, will retry",
			"attempt", attempt, "max", c.opts.MaxRetries, "err", err)
	}
	return nil, errors.Mark(
		errors.Wrapf(lastErr, "fetch failed after %d attempts", c.opts.MaxRetries),
		ErrRetryExhausted)
}

func (c *Client) fetchOnce(ctx context.Context, target string) (*Page, error) {
	req, err := c.newRequest(ctx, target)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.HTTPResponses.WithLabelValues("transport_error").Inc()
		return nil, errors.Wrap(err, "pulses request")
	}
	defer resp.Body.Close()
	metrics.HTTPResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body pageBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, errors.Wrap(err, "decode pulses response")
		}
		metrics.PagesFetched.Inc()
		return &Page{Results: body.Results, NextCursor: body.Next, Count: body.Count}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(ErrAuth, "status %d: %s", resp.StatusCode, snippet(resp.Body))
	case Retryable(resp.StatusCode):
		return nil, errors.Newf("retryable status %d: %s", resp.StatusCode, snippet(resp.Body))
	default:
		return nil, errors.Wrapf(ErrClient, "status %d: %s", resp.StatusCode, snippet(resp.Body))
	}
}

func (c *Client) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %s", target)
	}
	req.Header.Set(apiKeyHeader, c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) listURL(since time.Time) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.opts.PageLimit))
	if !since.IsZero() {
		q.Set("modified_since", since.UTC().Format(time.RFC3339))
	}
	return c.opts.BaseURL + pulsesPath + "?" + q.Encode()
}

// backoff returns the delay before the given attempt (attempt >= 2).
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BackoffBase << uint(attempt-2)
	if d > c.opts.BackoffCeiling || d <= 0 {
		d = c.opts.BackoffCeiling
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// snippet reads a bounded prefix of an error response body for logs.
func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 200))
	if len(b) == 0 {
		return "<empty body>"
	}
	return fmt.Sprintf("%q", b)
}
