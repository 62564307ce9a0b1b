package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/models"
)

const (
	defaultAPIURL = "https://api.github.com"
	defaultWebURL = "https://github.com"

	// The trending page serves a reduced document to non-browser agents.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Client is a thin wrapper around the GitHub REST API and the trending page.
type Client struct {
	token      string
	apiURL     string
	webURL     string
	userAgent  string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithAPIURL(u string) Option { return func(c *Client) { c.apiURL = u } }

func WithWebURL(u string) Option { return func(c *Client) { c.webURL = u } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithClock overrides the time source used for the search date window.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient builds a client. An empty token is legal; GitHub then applies
// the unauthenticated rate limit.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		apiURL:     defaultAPIURL,
		webURL:     defaultWebURL,
		userAgent:  "trend-watch",
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- internal ---

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkRateLimit(resp); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GitHub API returned %d for %s: %s", resp.StatusCode, path, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing response for %s: %w", path, err)
	}
	return nil
}

// checkRateLimit reports an exhausted quota. GitHub answers 403 (primary
// limit) or 429 (secondary limit) with X-RateLimit-Remaining: 0.
func checkRateLimit(resp *http.Response) error {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return nil
	}

	reset := "unknown"
	if sec, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		reset = time.Unix(sec, 0).UTC().Format(time.RFC3339)
	}
	return fmt.Errorf("%w: GitHub quota exhausted, resets at %s", models.ErrRateLimited, reset)
}
