package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
)

var (
	// ErrJWKSKeyNotFound is returned when no key in the set matches the token kid.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures while loading the key set.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSTTL     = 15 * time.Minute
	defaultJWKSTimeout = 5 * time.Second
)

// JWKSCache holds a remote JSON Web Key Set for as long as its Cache-Control max-age allows.
type JWKSCache struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	keys    map[string]jose.JSONWebKey
	expires time.Time
}

// JWKSOption customises JWKSCache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets the logger for refresh events.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSClock injects a time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache returns a cache for the key set published at url. Nothing is fetched until the
// first Key call.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
		now:     time.Now,
		timeout: defaultJWKSTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key returns the public key for kid. A kid missing from a fresh set triggers one extra
// fetch, since signing keys can rotate before max-age runs out.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refreshed := false
	if c.stale() {
		if err := c.reload(ctx); err != nil {
			return nil, err
		}
		refreshed = true
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	if !refreshed {
		if err := c.reload(ctx); err != nil {
			return nil, err
		}
		if jwk, ok := c.keys[kid]; ok {
			return jwk.Key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) stale() bool {
	return len(c.keys) == 0 || !c.now().Before(c.expires)
}

// reload replaces the cached set. The caller holds c.mu.
func (c *JWKSCache) reload(ctx context.Context) error {
	keys, ttl, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	c.keys, c.expires = keys, c.now().Add(ttl)
	c.logger.Debug("jwks refreshed", zap.String("url", c.url), zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return nil
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]jose.JSONWebKey, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, 0, fmt.Errorf("decode: %w", err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return nil, 0, errors.New("empty key set")
	}

	ttl, ok := maxAge(resp.Header.Get("Cache-Control"))
	if !ok {
		ttl = defaultJWKSTTL
	}
	return keys, ttl, nil
}

// maxAge extracts the max-age directive from a Cache-Control header.
func maxAge(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		if !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
