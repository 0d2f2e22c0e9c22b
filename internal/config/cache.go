package config

import (
	"context"
	"fmt"
	"sync"
)

// Loader produces a fresh Config/Metadata snapshot, typically config.Load
// bound to a fixed set of Options via a closure.
type Loader func(ctx context.Context) (Config, Metadata, error)

// Cache holds the last successfully loaded Config snapshot and refreshes it
// on demand via Reload, without blocking concurrent Resolve callers and
// without losing the last-good snapshot if a reload fails.
type Cache struct {
	loader Loader

	mu   sync.RWMutex
	cfg  Config
	meta Metadata

	updates chan struct{}
}

// NewCache constructs a Cache and performs the initial load synchronously,
// so a freshly constructed Cache is immediately usable.
func NewCache(loader Loader) (*Cache, error) {
	if loader == nil {
		return nil, fmt.Errorf("config: loader required")
	}
	cfg, meta, err := loader(context.Background())
	if err != nil {
		return nil, fmt.Errorf("config: initial load: %w", err)
	}
	return &Cache{
		loader:  loader,
		cfg:     cfg,
		meta:    meta,
		updates: make(chan struct{}, 1),
	}, nil
}

// Resolve returns the current cached snapshot.
func (c *Cache) Resolve(_ context.Context) (Config, Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.meta, nil
}

// Reload re-runs the loader and swaps the cached snapshot on success. On
// error the previous snapshot is kept and the error is returned to the
// caller (typically logged and otherwise ignored, since live reload is
// best-effort).
func (c *Cache) Reload(ctx context.Context) error {
	cfg, meta, err := c.loader(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.meta = meta
	c.mu.Unlock()

	select {
	case c.updates <- struct{}{}:
	default:
	}
	return nil
}

// Updates signals (non-blocking, coalesced) whenever Reload succeeds.
func (c *Cache) Updates() <-chan struct{} {
	return c.updates
}
