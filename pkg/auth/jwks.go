package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/artifortress/artifortress/pkg/metrics"
)

// maxJWKSBody caps a remote JWKS document at 1 MiB
const maxJWKSBody = 1 << 20

// JWKSCache holds the RS256 verification keys. The static set parsed from
// configuration is the permanent fallback: it is merged into every answer
// and never dropped. The remote set is fetched lazily once per refresh
// interval; concurrent callers share one fetch through a single-flight
// lock, and a failed fetch keeps the previously fetched keys.
type JWKSCache struct {
	static  jose.JSONWebKeySet
	url     string
	refresh time.Duration
	timeout time.Duration
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	remote    jose.JSONWebKeySet
	fetchedAt time.Time
}

// NewJWKSCache builds the cache from the static JWKS JSON and optional
// remote URL. A malformed static document is a startup error.
func NewJWKSCache(staticJSON, url string, refresh, timeout time.Duration, logger zerolog.Logger) (*JWKSCache, error) {
	cache := &JWKSCache{
		url:     url,
		refresh: refresh,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "jwks").Logger(),
		now:     time.Now,
	}
	if staticJSON != "" {
		if err := json.Unmarshal([]byte(staticJSON), &cache.static); err != nil {
			return nil, fmt.Errorf("failed to parse static JWKS: %w", err)
		}
	}
	return cache, nil
}

// HasKeys reports whether any verification key source is configured
func (c *JWKSCache) HasKeys() bool {
	return len(c.static.Keys) > 0 || c.url != ""
}

// KeysByID returns every key matching kid across the static fallback and
// the remote set. Both are consulted so rotation cannot orphan a token
// signed with a fallback key.
func (c *JWKSCache) KeysByID(ctx context.Context, kid string) []jose.JSONWebKey {
	c.refreshIfStale(ctx)

	keys := c.static.Key(kid)
	c.mu.RLock()
	keys = append(keys, c.remote.Key(kid)...)
	c.mu.RUnlock()
	return keys
}

// refreshIfStale fetches the remote set at most once per refresh interval.
// All errors are absorbed: validation continues on the merged keys already
// held.
func (c *JWKSCache) refreshIfStale(ctx context.Context) {
	if c.url == "" {
		return
	}
	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.refresh
	c.mu.RUnlock()
	if fresh {
		return
	}

	// The counter increments inside the flight so callers sharing one
	// fetch count it once.
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		err := c.fetch(ctx)
		if err != nil {
			metrics.JWKSRefreshesTotal.WithLabelValues("error").Inc()
		} else {
			metrics.JWKSRefreshesTotal.WithLabelValues("ok").Inc()
		}
		return nil, err
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("url", c.url).Msg("JWKS refresh failed, keeping previous keys")
	}
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("failed to parse JWKS response: %w", err)
	}

	c.mu.Lock()
	c.remote = set
	c.fetchedAt = c.now()
	c.mu.Unlock()

	c.logger.Debug().Int("keys", len(set.Keys)).Msg("refreshed remote JWKS")
	return nil
}
