package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenCachedUntilMargin(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 11, 13, 0, 0, 0, 0, time.UTC)}
	var calls atomic.Int64
	p := NewTokenProvider(func(context.Context) (Token, error) {
		n := calls.Add(1)
		return Token{Value: fmt.Sprintf("tok-%d", n), ExpiresIn: 30 * time.Minute}, nil
	}, WithClock(clock.Now))

	ctx := context.Background()
	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(24 * time.Minute)
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// 25 minutes in, the 5 minute margin makes the token stale.
	clock.Advance(time.Minute)
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.EqualValues(t, 2, calls.Load())
}

func TestTokenSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	p := NewTokenProvider(func(context.Context) (Token, error) {
		calls.Add(1)
		<-release
		return Token{Value: "shared", ExpiresIn: time.Hour}, nil
	})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.Token(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestTokenFetchError(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	p := NewTokenProvider(func(context.Context) (Token, error) {
		if fail {
			return Token{}, boom
		}
		return Token{Value: "ok", ExpiresIn: time.Hour}, nil
	})

	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, boom)

	fail = false
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", tok)
}

func TestTokenInvalidate(t *testing.T) {
	var calls atomic.Int64
	p := NewTokenProvider(func(context.Context) (Token, error) {
		calls.Add(1)
		return Token{Value: "t", ExpiresIn: time.Hour}, nil
	})

	_, err := p.Token(context.Background())
	require.NoError(t, err)
	p.Invalidate()
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}
