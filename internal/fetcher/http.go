// Package fetcher implements the authenticated, rate-limited JSON transport used
// to talk to the CRM REST API.
package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/resilience"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	UserAgent  string
	Timeout    time.Duration // bound on a single request, body included
	RatePerSec float64
	Burst      int
	Retry      resilience.Policy
	HTTPClient *http.Client
}

// Client issues GET requests that decode JSON bodies. Every attempt waits on the
// adaptive limiter and runs under its own timeout; transient failures are retried
// according to the configured policy.
type Client struct {
	base    *url.URL
	opts    Options
	http    *http.Client
	limiter *AdaptiveLimiter
}

// New creates a Client. BaseURL must be absolute.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, eris.Errorf("fetcher: invalid base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "revops-cli/1.0"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &Client{
		base:    base,
		opts:    opts,
		http:    hc,
		limiter: NewAdaptiveLimiter(opts.RatePerSec, opts.Burst),
	}, nil
}

// GetJSON fetches path with the given query and decodes the body into out.
// It reports empty=true for 204 No Content, in which case out is untouched.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) (empty bool, err error) {
	target := c.base.JoinPath(path)
	target.RawQuery = query.Encode()

	policy := c.opts.Retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetry("fetcher", path)
	}

	return resilience.Retry(ctx, policy, func(ctx context.Context) (bool, error) {
		return c.attempt(ctx, target.String(), out)
	})
}

func (c *Client) attempt(ctx context.Context, target string, out any) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, resilience.NewTransientError(eris.Wrapf(err, "fetcher: GET %s", req.URL.Path), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNoContent:
		c.limiter.OnSuccess()
		return true, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return false, resilience.StatusError(resp.StatusCode, req.URL.Path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, resilience.StatusError(resp.StatusCode, req.URL.Path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			c.limiter.OnSuccess()
			return true, nil
		}
		if ctx.Err() != nil {
			return false, resilience.NewTransientError(eris.Wrapf(err, "fetcher: read %s", req.URL.Path), 0)
		}
		return false, eris.Wrapf(err, "fetcher: decode %s", req.URL.Path)
	}
	c.limiter.OnSuccess()
	return false, nil
}
