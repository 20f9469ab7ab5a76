package dashboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/searchconsole"
	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

const cacheCleanupInterval = time.Minute

// CacheKey identifies a result set. Panels of the same session showing the
// same site, range and type share the cached rows.
type CacheKey struct {
	Session string
	Site    string
	Range   searchconsole.Range
	Type    searchconsole.SearchType
}

func (k CacheKey) String() string {
	return k.Session + "|" + k.Site + "|" + string(k.Range) + "|" + string(k.Type)
}

// SessionKey names the account a token belongs to. Tokens without a profile
// are told apart by a digest of the access token.
func SessionKey(token session.Token) string {
	if token.Profile.Subject != "" {
		return "sub:" + token.Profile.Subject
	}
	sum := sha256.Sum256([]byte(token.AccessToken))

	return "at:" + hex.EncodeToString(sum[:8])
}

// ResultCache keeps successful results for a fixed time to live. Concurrent
// fetches of the same key share one network call.
type ResultCache struct {
	items  *cache.Cache
	flight singleflight.Group
}

func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{
		items: cache.New(ttl, cacheCleanupInterval),
	}
}

func (c *ResultCache) Get(key CacheKey) (searchconsole.Rows, bool) {
	v, ok := c.items.Get(key.String())
	if !ok {
		return searchconsole.Rows{}, false
	}

	//nolint:forcetypeassert
	return v.(searchconsole.Rows), true
}

func (c *ResultCache) Set(key CacheKey, rows searchconsole.Rows) {
	c.items.SetDefault(key.String(), rows)
}

// Flush drops all results once the session that fetched them ended.
func (c *ResultCache) Flush() {
	c.items.Flush()
}

// Fetch returns the cached rows for key unless bypass is set. Otherwise it
// calls fetch and caches a successful result. The second return value
// reports a cache hit.
//
// The shared call is detached from the cancellation of the caller that
// started it. Every caller stops waiting once its own ctx is done.
func (c *ResultCache) Fetch(
	ctx context.Context,
	key CacheKey,
	bypass bool,
	fetch func(ctx context.Context) (searchconsole.Rows, error),
) (searchconsole.Rows, bool, error) {
	if !bypass {
		if rows, ok := c.Get(key); ok {
			return rows, true, nil
		}
	}

	shared := context.WithoutCancel(ctx)
	results := c.flight.DoChan(key.String(), func() (any, error) {
		rows, err := fetch(shared)
		if err != nil {
			return nil, err
		}
		c.Set(key, rows)

		return rows, nil
	})

	select {
	case <-ctx.Done():
		return searchconsole.Rows{}, false, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return searchconsole.Rows{}, false, res.Err
		}

		//nolint:forcetypeassert
		return res.Val.(searchconsole.Rows), false, nil
	}
}
