// Package auth caches short-lived access tokens for remote capabilities.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultMargin is how long before its declared expiry a token is treated as
// expired, covering clock skew and requests already in flight.
const DefaultMargin = 5 * time.Minute

// Token is one credential as issued by the remote authority.
type Token struct {
	Value     string
	ExpiresIn time.Duration
}

// FetchFunc obtains a fresh token.
type FetchFunc func(ctx context.Context) (Token, error)

// TokenProvider holds one cached token and refreshes it lazily on the first
// call after it expires. Concurrent callers share a single refresh.
type TokenProvider struct {
	fetch  FetchFunc
	margin time.Duration
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

type Option func(*TokenProvider)

func WithMargin(d time.Duration) Option { return func(p *TokenProvider) { p.margin = d } }

func WithClock(now func() time.Time) Option { return func(p *TokenProvider) { p.now = now } }

func NewTokenProvider(fetch FetchFunc, opts ...Option) *TokenProvider {
	p := &TokenProvider{
		fetch:  fetch,
		margin: DefaultMargin,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns the cached token, refreshing it first when it has expired.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if tok, ok := p.cached(); ok {
		return tok, nil
	}

	v, err, _ := p.group.Do("token", func() (any, error) {
		// Another caller may have refreshed while we waited.
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		t, err := p.fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("refreshing access token: %w", err)
		}
		if t.Value == "" {
			return "", fmt.Errorf("refreshing access token: empty token")
		}

		p.mu.Lock()
		p.token = t.Value
		p.expiry = p.now().Add(t.ExpiresIn - p.margin)
		p.mu.Unlock()
		return t.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call refreshes it.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiry = time.Time{}
	p.mu.Unlock()
}

func (p *TokenProvider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || !p.now().Before(p.expiry) {
		return "", false
	}
	return p.token, true
}
