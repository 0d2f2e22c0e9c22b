package agentresolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// cacheEntry pairs a loaded definition with an expiry, since golang-lru/v2's
// generic Cache has no built-in TTL.
type cacheEntry struct {
	def       *Definition
	expiresAt time.Time
}

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 10 * time.Minute
)

// CachingLoader wraps a DefinitionLoader with an LRU+TTL cache keyed by
// "agentId@configVersion", avoiding redundant disk/frontmatter loads on
// every resolve.
type CachingLoader struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, cacheEntry]
	ttl    time.Duration
	source DefinitionLoader

	configVersion string
}

// NewCachingLoader wraps source with a size-bounded, TTL-expiring cache.
func NewCachingLoader(source DefinitionLoader, configVersion string) *CachingLoader {
	cache, err := lru.New[string, cacheEntry](defaultCacheSize)
	if err != nil {
		cache = nil
	}
	return &CachingLoader{cache: cache, ttl: defaultCacheTTL, source: source, configVersion: configVersion}
}

// SetConfigVersion invalidates the cache key space when the underlying
// agent config reloads (e.g. on a file-watch event).
func (c *CachingLoader) SetConfigVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configVersion = version
}

func (c *CachingLoader) key(agentID string) string {
	return agentID + "@" + c.configVersion
}

// Load returns agentID's definition, consulting the cache first.
func (c *CachingLoader) Load(ctx context.Context, agentID string) (*Definition, error) {
	c.mu.Lock()
	key := c.key(agentID)
	if c.cache != nil {
		if entry, ok := c.cache.Get(key); ok {
			if time.Now().Before(entry.expiresAt) {
				c.mu.Unlock()
				return entry.def, nil
			}
			c.cache.Remove(key)
		}
	}
	c.mu.Unlock()

	def, err := c.source.Load(ctx, agentID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.cache != nil {
		c.cache.Add(key, cacheEntry{def: def, expiresAt: time.Now().Add(c.ttl)})
	}
	c.mu.Unlock()
	return def, nil
}

// FileLoader loads agent definitions from "<dir>/<agentId>.yaml".
type FileLoader struct {
	dir string
}

// NewFileLoader constructs a FileLoader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

func (f *FileLoader) Load(ctx context.Context, agentID string) (*Definition, error) {
	path := filepath.Join(f.dir, agentID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentresolver: load agent %q: %w", agentID, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("agentresolver: parse agent %q: %w", agentID, err)
	}
	if def.ID == "" {
		def.ID = agentID
	}
	return &def, nil
}

// MapLoader is an in-memory DefinitionLoader, used by tests and for
// statically-configured deployments.
type MapLoader map[string]*Definition

func (m MapLoader) Load(ctx context.Context, agentID string) (*Definition, error) {
	def, ok := m[agentID]
	if !ok {
		return nil, fmt.Errorf("agentresolver: unknown agent %q", agentID)
	}
	return def, nil
}
