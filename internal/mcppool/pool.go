package mcppool

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/logging"
)

// IdleCheckInterval is how often the GC sweep runs.
const IdleCheckInterval = 60 * time.Second

// IdleThreshold is how long a minion's servers may sit unused (and
// unleased) before the GC sweep stops them.
const IdleThreshold = 10 * time.Minute

type cacheEntry struct {
	mu sync.Mutex

	configSignature string
	instances       map[string]*instance
	lastActivity    time.Time
	leases          int

	hasPendingRestart bool
	pendingConfigs    []ServerConfig
	pendingSignature  string
}

// Option customizes Pool construction.
type Option func(*Pool)

// WithClientFactory swaps the concrete MCP client construction — used by
// tests to inject a fake serverClient instead of dialing a real process.
func WithClientFactory(f clientFactory) Option {
	return func(p *Pool) {
		if f != nil {
			p.newClient = f
		}
	}
}

// WithIdleParams overrides the GC sweep cadence and idle threshold.
func WithIdleParams(checkInterval, threshold time.Duration) Option {
	return func(p *Pool) {
		p.idleCheckInterval = checkInterval
		p.idleThreshold = threshold
	}
}

// Pool is the MCPServerPool: one instance shared process-wide, caching live
// MCP connections per minion.
type Pool struct {
	mu    sync.Mutex
	cache map[string]*cacheEntry

	newClient clientFactory
	logger    logging.Logger
	breakers  *errutil.CircuitBreakerManager

	idleCheckInterval time.Duration
	idleThreshold     time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Pool backed by the real mark3labs/mcp-go transport.
func New(logger logging.Logger, opts ...Option) *Pool {
	p := &Pool{
		cache:             make(map[string]*cacheEntry),
		newClient:         newGoMCPClient,
		logger:            logging.OrNop(logger),
		breakers:          errutil.NewCircuitBreakerManager(errutil.DefaultCircuitBreakerConfig()),
		idleCheckInterval: IdleCheckInterval,
		idleThreshold:     IdleThreshold,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) entryFor(minionID string) *cacheEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache[minionID]
	if !ok {
		e = &cacheEntry{instances: make(map[string]*instance)}
		p.cache[minionID] = e
	}
	return e
}

// AcquireLease increments minionID's reference count and bumps its activity.
func (p *Pool) AcquireLease(minionID string) {
	entry := p.entryFor(minionID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.leases++
	entry.lastActivity = time.Now()
}

// ReleaseLease decrements minionID's reference count. It does NOT apply any
// deferred restart — that only happens on the next GetToolsForMinion call
// made with zero leases, so an in-flight stream never has its tool clients
// pulled out from under it.
func (p *Pool) ReleaseLease(minionID string) {
	entry := p.entryFor(minionID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.leases > 0 {
		entry.leases--
	}
}

// GetToolsForMinion implements the five-step resolution: merge, filter by
// policy, dedupe, apply overrides, then list tools per server.
func (p *Pool) GetToolsForMinion(ctx context.Context, minionID string, projectServers, minionOverrides []ServerConfig) ([]Tool, error) {
	merged := mergeProjectAndOverrides(projectServers, minionOverrides)
	enabled, denied := filterByPolicy(merged, minionID)
	for _, d := range denied {
		p.logger.Warn("mcppool: %v", d)
	}
	signature := configSignature(enabled)
	enabledIdx := enabledByName(enabled)

	entry := p.entryFor(minionID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.hasPendingRestart && entry.leases == 0 {
		if err := p.reconcileLocked(ctx, entry, entry.pendingConfigs, entry.pendingSignature); err != nil {
			return nil, err
		}
		entry.hasPendingRestart = false
		entry.pendingConfigs = nil
	}

	anyClosed := false
	for _, inst := range entry.instances {
		if inst.IsClosed() {
			anyClosed = true
			break
		}
	}

	switch {
	case entry.configSignature == signature && !anyClosed:
		entry.lastActivity = time.Now()

	case signature != entry.configSignature && entry.leases > 0:
		entry.lastActivity = time.Now()
		entry.pendingConfigs = enabled
		entry.pendingSignature = signature
		entry.hasPendingRestart = true

	case anyClosed && entry.leases > 0:
		if err := p.partialRestartLocked(ctx, entry, enabledIdx); err != nil {
			return nil, err
		}
		entry.lastActivity = time.Now()

	default:
		if err := p.reconcileLocked(ctx, entry, enabled, signature); err != nil {
			return nil, err
		}
	}

	return collectTools(entry, enabledIdx), nil
}

// collectTools gathers tools from live instances, dropping any instance
// whose server is no longer enabled (without closing it — the deferred
// restart path relies on that) and applying each server's current
// allowlist.
func collectTools(entry *cacheEntry, enabledIdx map[string]ServerConfig) []Tool {
	var out []Tool
	for name, inst := range entry.instances {
		cfg, ok := enabledIdx[name]
		if !ok {
			continue
		}
		out = append(out, filterByAllowlist(inst.tools, cfg.ToolAllowlist)...)
	}
	return out
}

// connectServer dials cfg's server through the circuit breaker and returns
// the instance with its raw (not yet normalized) tool list.
func (p *Pool) connectServer(ctx context.Context, cfg ServerConfig) (*instance, []RawTool, error) {
	breaker := p.breakers.Get("mcp:" + cfg.Name)
	var (
		inst *instance
		raw  []RawTool
	)
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		client, err := p.newClient(cfg)
		if err != nil {
			return err
		}
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return err
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			_ = client.Close()
			return err
		}
		raw = tools
		inst = &instance{name: cfg.Name, resolvedTransport: cfg.Transport, client: client, startedAt: time.Now()}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return inst, raw, nil
}

// reconcileLocked stops every instance and starts exactly the required set,
// per step 5 ("otherwise: stop all, start all required servers").
func (p *Pool) reconcileLocked(ctx context.Context, entry *cacheEntry, enabled []ServerConfig, signature string) error {
	for _, inst := range entry.instances {
		_ = inst.Close()
	}
	entry.instances = make(map[string]*instance)

	sorted := append([]ServerConfig(nil), enabled...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	type started struct {
		cfg  ServerConfig
		inst *instance
		raw  []RawTool
	}
	results := make([]started, len(sorted))

	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range sorted {
		i, cfg := i, cfg
		g.Go(func() error {
			inst, raw, err := p.connectServer(gctx, cfg)
			if err != nil {
				p.logger.Warn("mcppool: failed to start server %q: %v", cfg.Name, err)
				return nil // one server failing to start doesn't fail the whole pool
			}
			results[i] = started{cfg: cfg, inst: inst, raw: raw}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, r := range results {
		if r.inst == nil {
			continue
		}
		r.inst.tools = normalizeServerTools(r.cfg.Name, r.raw, seen, p.logger)
		entry.instances[r.cfg.Name] = r.inst
	}
	entry.configSignature = signature
	entry.lastActivity = time.Now()
	return nil
}

// partialRestartLocked closes only dead instances and starts replacements
// for their names, leaving healthy instances untouched (step 4).
func (p *Pool) partialRestartLocked(ctx context.Context, entry *cacheEntry, enabledIdx map[string]ServerConfig) error {
	seen := make(map[string]bool)
	for name, inst := range entry.instances {
		if !inst.IsClosed() {
			for _, t := range inst.tools {
				seen[t.Name] = true
			}
		}
		_ = name
	}

	var deadNames []string
	for name, inst := range entry.instances {
		if inst.IsClosed() {
			deadNames = append(deadNames, name)
		}
	}
	sort.Strings(deadNames)

	for _, name := range deadNames {
		delete(entry.instances, name)
		cfg, ok := enabledIdx[name]
		if !ok {
			continue
		}
		inst, raw, err := p.connectServer(ctx, cfg)
		if err != nil {
			p.logger.Warn("mcppool: partial restart of %q failed: %v", name, err)
			continue
		}
		inst.tools = normalizeServerTools(cfg.Name, raw, seen, p.logger)
		entry.instances[name] = inst
	}
	return nil
}

// StartIdleGC launches the background sweep goroutine. Call Stop to end it.
func (p *Pool) StartIdleGC() {
	go func() {
		ticker := time.NewTicker(p.idleCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.sweepIdle()
			}
		}
	}()
}

// Stop ends the idle-GC goroutine. Safe to call multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	minionIDs := make([]string, 0, len(p.cache))
	for id := range p.cache {
		minionIDs = append(minionIDs, id)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, minionID := range minionIDs {
		entry := p.entryFor(minionID)
		entry.mu.Lock()
		if entry.leases == 0 && now.Sub(entry.lastActivity) > p.idleThreshold {
			for _, inst := range entry.instances {
				_ = inst.Close()
			}
			entry.instances = make(map[string]*instance)
			entry.configSignature = ""
			p.logger.Info("mcppool: idle GC stopped servers for minionId=%s", minionID)
		}
		entry.mu.Unlock()
	}
}
