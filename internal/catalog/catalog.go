// internal/catalog/catalog.go - action resolution with a short-TTL read cache
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smartops/internal/database"
)

const (
	// DefaultTimeout applies when an action carries no kind-specific timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultCacheTTL bounds how stale a cached list query may get.
	DefaultCacheTTL = 5 * time.Minute
)

type cacheEntry struct {
	actions   []database.Action
	expiresAt time.Time
}

// Catalog resolves action definitions from the store. List queries are
// cached per query shape; a stale or missing entry degrades to a direct
// lookup, never to incorrect data.
type Catalog struct {
	store          database.Store
	ttl            time.Duration
	defaultTimeout time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func New(store database.Store, ttl, defaultTimeout time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Catalog{
		store:          store,
		ttl:            ttl,
		defaultTimeout: defaultTimeout,
		cache:          make(map[string]cacheEntry),
	}
}

func (c *Catalog) Get(ctx context.Context, id string) (*database.Action, error) {
	return c.store.GetAction(ctx, id)
}

func (c *Catalog) GetByName(ctx context.Context, name string) (*database.Action, error) {
	return c.store.GetActionByName(ctx, name)
}

// List returns actions filtered by kind and active flag, served from the
// cache when fresh.
func (c *Catalog) List(ctx context.Context, kind string, activeOnly bool) ([]database.Action, error) {
	key := listKey(kind, activeOnly)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		logrus.WithField("key", key).Debug("Action list cache hit")
		return entry.actions, nil
	}

	actions, err := c.store.GetActions(ctx, database.ActionFilters{
		Kind:       kind,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{actions: actions, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return actions, nil
}

// Invalidate drops all cached list queries. Called after administrative
// writes to the catalog.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// EffectiveTimeout returns the action's own timeout or the configured
// default.
func (c *Catalog) EffectiveTimeout(action *database.Action) time.Duration {
	if action.TimeoutSeconds > 0 {
		return time.Duration(action.TimeoutSeconds) * time.Second
	}
	return c.defaultTimeout
}

func listKey(kind string, activeOnly bool) string {
	k := kind
	if k == "" {
		k = "all"
	}
	if activeOnly {
		return k + ":active"
	}
	return k + ":all"
}
