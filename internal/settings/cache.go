package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultTTL is how long a loaded settings snapshot stays fresh.
const DefaultTTL = 60 * time.Second

type cacheEntry struct {
	settings Settings
	loadedAt time.Time
}

// Cache wraps a Store with a per-kind TTL cache and environment overrides.
// A write invalidates its kind immediately. Concurrent refreshes on a cache
// miss may race; reads are idempotent and the last writer wins, so the race
// is harmless.
type Cache struct {
	store     Store
	ttl       time.Duration
	logger    *slog.Logger
	lookupEnv func(string) (string, bool)

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache builds a settings cache. A zero ttl falls back to DefaultTTL.
func NewCache(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:     store,
		ttl:       ttl,
		logger:    logger,
		lookupEnv: os.LookupEnv,
		entries:   make(map[string]cacheEntry),
	}
}

// Load returns the settings for a pipeline kind, reading through to the
// store when the cached snapshot is older than the TTL. Environment
// variables named <envPrefix>_WEBHOOK_URL, _WEBHOOK_TOKEN and
// _RESPONSE_TOKEN always win over persisted values.
func (c *Cache) Load(ctx context.Context, kind, envPrefix string) (Settings, error) {
	c.mu.RLock()
	entry, ok := c.entries[kind]
	c.mu.RUnlock()

	if ok && time.Since(entry.loadedAt) < c.ttl {
		return entry.settings, nil
	}

	values, err := c.store.LoadValues(ctx, kind)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to refresh settings for %s: %w", kind, err)
	}

	s := fromValues(values)
	c.applyEnv(&s, envPrefix)

	c.mu.Lock()
	c.entries[kind] = cacheEntry{settings: s, loadedAt: time.Now()}
	c.mu.Unlock()

	c.logger.Debug("Settings refreshed",
		slog.String("kind", kind),
		slog.Bool("webhook_configured", s.WebhookURL != ""),
	)

	return s, nil
}

// Save writes the provided keys and invalidates the kind so the next Load
// bypasses the cache.
func (c *Cache) Save(ctx context.Context, kind string, patch Patch) error {
	values := patch.values()
	if len(values) == 0 {
		return nil
	}

	if err := c.store.SaveValues(ctx, kind, values); err != nil {
		return err
	}

	c.Invalidate(kind)

	c.logger.Info("Settings updated",
		slog.String("kind", kind),
		slog.Int("keys", len(values)),
	)

	return nil
}

// Invalidate drops the cached snapshot for a kind.
func (c *Cache) Invalidate(kind string) {
	c.mu.Lock()
	delete(c.entries, kind)
	c.mu.Unlock()
}

func (c *Cache) applyEnv(s *Settings, envPrefix string) {
	if envPrefix == "" {
		return
	}
	if v, ok := c.lookupEnv(envPrefix + "_WEBHOOK_URL"); ok {
		s.WebhookURL = v
	}
	if v, ok := c.lookupEnv(envPrefix + "_WEBHOOK_TOKEN"); ok {
		s.WebhookToken = v
	}
	if v, ok := c.lookupEnv(envPrefix + "_RESPONSE_TOKEN"); ok {
		s.ResponseToken = v
	}
}
