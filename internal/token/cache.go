package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Lifetime is how long a fetched token is trusted, one second short of the
// authority's one hour grant.
const Lifetime = 3599 * time.Second

// DefaultHandshakeTimeout bounds one shared handshake, independent of the
// callers waiting on it.
const DefaultHandshakeTimeout = 15 * time.Second

// ErrAuthenticationFailed is returned when the authority is unreachable or
// rejects the consumer credentials.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Token is an opaque bearer credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token may still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// Fetcher performs the credential handshake with the authority.
type Fetcher interface {
	FetchToken(ctx context.Context) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (string, error)

func (f FetcherFunc) FetchToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// DemoFetcher synthesizes random tokens without any network access.
type DemoFetcher struct{}

func (DemoFetcher) FetchToken(context.Context) (string, error) {
	return "demo_" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

// Cache amortizes the handshake across calls. Only one refresh runs at a time;
// concurrent callers wait for it and share its result.
type Cache struct {
	fetcher          Fetcher
	nowFn            func() time.Time
	lifetime         time.Duration
	handshakeTimeout time.Duration
	onRefresh        func()

	mu      sync.Mutex
	current Token
	group   singleflight.Group
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source (used primarily in tests).
func WithClock(nowFn func() time.Time) Option {
	return func(c *Cache) {
		if nowFn != nil {
			c.nowFn = nowFn
		}
	}
}

// WithRefreshHook registers fn to run after every successful handshake.
func WithRefreshHook(fn func()) Option {
	return func(c *Cache) {
		c.onRefresh = fn
	}
}

// WithHandshakeTimeout bounds each shared handshake. Non-positive values
// keep DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// NewCache builds a Cache around fetcher.
func NewCache(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:          fetcher,
		nowFn:            time.Now,
		lifetime:         Lifetime,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached token while it is valid and performs a handshake
// otherwise. The handshake is shared by concurrent callers and runs detached
// from any one caller's cancellation; each caller stops waiting when its own
// ctx is done.
func (c *Cache) Get(ctx context.Context) (Token, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

func (c *Cache) refresh(ctx context.Context) (Token, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	value, err := c.fetcher.FetchToken(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrAuthenticationFailed):
		return Token{}, err
	case errors.Is(err, context.DeadlineExceeded):
		return Token{}, fmt.Errorf("token handshake: %w", err)
	default:
		return Token{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if value == "" {
		return Token{}, fmt.Errorf("%w: empty access token", ErrAuthenticationFailed)
	}

	tok := Token{Value: value, ExpiresAt: c.nowFn().Add(c.lifetime)}
	c.mu.Lock()
	c.current = tok
	c.mu.Unlock()
	if c.onRefresh != nil {
		c.onRefresh()
	}
	return tok, nil
}

// Invalidate drops the cached token so the next Get performs a handshake.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Token{}
}

func (c *Cache) cached() (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Valid(c.nowFn()) {
		return c.current, true
	}
	return Token{}, false
}
