package formatter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"dqlfmt/internal/logging"
)

// Cache persists formatter results. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, identity, key string) (string, bool, error)
	Put(ctx context.Context, identity, key, formatted string) error
}

// Cached wraps a formatter with a result cache. Only successful results
// are stored; cache errors are logged and fall through to the formatter.
type Cached struct {
	inner    Formatter
	cache    Cache
	identity string
}

// NewCached decorates inner with cache. identity defaults to the inner
// formatter's own identity.
func NewCached(inner Formatter, cache Cache, identity string) *Cached {
	if identity == "" {
		identity = IdentityOf(inner, "anonymous")
	}
	return &Cached{inner: inner, cache: cache, identity: identity}
}

func (c *Cached) Identity() string {
	return c.identity
}

// Key returns the content key used for text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Cached) Format(ctx context.Context, text string) (string, error) {
	key := Key(text)
	if out, ok, err := c.cache.Get(ctx, c.identity, key); err != nil {
		logging.FormatterWarn("cache lookup failed: %v", err)
	} else if ok {
		logging.FormatterDebug("cache hit %s", key[:12])
		return out, nil
	}

	out, err := c.inner.Format(ctx, text)
	if err != nil {
		return "", err
	}
	if err := c.cache.Put(ctx, c.identity, key, out); err != nil {
		logging.FormatterWarn("cache store failed: %v", err)
	}
	return out, nil
}
