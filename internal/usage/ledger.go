// Package usage implements the SessionUsageLedger: a per-minion cumulative
// token/cost ledger with idempotent child→parent roll-up. Sums never
// subtract, so recorded cost is immune to later message deletion.
package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/minion"
)

const usageFileName = "session-usage.json"
const currentVersion = 1

// UsageDisplay is the cumulative per-model figure shown to callers.
type UsageDisplay struct {
	InputTokens     int64   `json:"inputTokens"`
	OutputTokens    int64   `json:"outputTokens"`
	CacheReadTokens int64   `json:"cacheReadTokens,omitempty"`
	CostUSD         float64 `json:"costUsd,omitempty"`
	RequestCount    int64   `json:"requestCount"`
}

func (d *UsageDisplay) add(u minion.Usage) {
	d.InputTokens += u.InputTokens
	d.OutputTokens += u.OutputTokens
	d.CacheReadTokens += u.CacheReadTokens
	d.CostUSD += u.CostUSD
	d.RequestCount++
}

// SessionUsage is the on-disk ledger shape for one minion.
type SessionUsage struct {
	ByModel      map[string]UsageDisplay `json:"byModel"`
	LastRequest  *time.Time              `json:"lastRequest,omitempty"`
	RolledUpFrom map[string]bool         `json:"rolledUpFrom"`
	Version      int                     `json:"version"`
}

func empty() SessionUsage {
	return SessionUsage{
		ByModel:      make(map[string]UsageDisplay),
		RolledUpFrom: make(map[string]bool),
		Version:      currentVersion,
	}
}

// TotalCost sums getTotalCost across every model — no subtraction, ever.
func (s SessionUsage) TotalCost() float64 {
	var total float64
	for _, d := range s.ByModel {
		total += d.CostUSD
	}
	return total
}

// Ledger is the filesystem-backed SessionUsageLedger, one instance shared
// process-wide, serializing all reads/writes behind a per-minion lock.
type Ledger struct {
	dataRoot string
	logger   logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Ledger rooted at dataRoot.
func New(dataRoot string, logger logging.Logger) *Ledger {
	return &Ledger{
		dataRoot: dataRoot,
		logger:   logging.OrNop(logger),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(minionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[minionID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[minionID] = lk
	}
	return lk
}

func (l *Ledger) path(minionID string) string {
	return filepath.Join(l.dataRoot, minionID, usageFileName)
}

func (l *Ledger) load(minionID string) (SessionUsage, error) {
	data, err := os.ReadFile(l.path(minionID))
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return SessionUsage{}, err
	}
	var s SessionUsage
	if err := json.Unmarshal(data, &s); err != nil {
		return SessionUsage{}, err
	}
	if s.ByModel == nil {
		s.ByModel = make(map[string]UsageDisplay)
	}
	if s.RolledUpFrom == nil {
		s.RolledUpFrom = make(map[string]bool)
	}
	return s, nil
}

func (l *Ledger) save(minionID string, s SessionUsage) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	target := l.path(minionID)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Get returns the current ledger for minionID, or an empty one if none has
// been recorded yet.
func (l *Ledger) Get(minionID string) (SessionUsage, error) {
	lk := l.lockFor(minionID)
	lk.Lock()
	defer lk.Unlock()
	return l.load(minionID)
}

// RecordUsage accumulates usage onto model's running total for minionID.
func (l *Ledger) RecordUsage(minionID, model string, u minion.Usage) error {
	lk := l.lockFor(minionID)
	lk.Lock()
	defer lk.Unlock()

	s, err := l.load(minionID)
	if err != nil {
		return err
	}
	display := s.ByModel[model]
	display.add(u)
	s.ByModel[model] = display
	now := time.Now().UTC()
	s.LastRequest = &now

	if err := l.save(minionID, s); err != nil {
		return err
	}
	l.logger.Info("usage recorded minionId=%s model=%s inputTokens=%d outputTokens=%d", minionID, model, u.InputTokens, u.OutputTokens)
	return nil
}

// RollUpFromChild merges a completed sidekick's ledger into its parent's,
// at most once per child — recorded in RolledUpFrom so a retried roll-up
// (e.g. after a crash) never double-counts.
func (l *Ledger) RollUpFromChild(parentMinionID, childMinionID string, child SessionUsage) error {
	lk := l.lockFor(parentMinionID)
	lk.Lock()
	defer lk.Unlock()

	parent, err := l.load(parentMinionID)
	if err != nil {
		return err
	}
	if parent.RolledUpFrom[childMinionID] {
		l.logger.Info("usage roll-up skipped (already applied) parentMinionId=%s childMinionId=%s", parentMinionID, childMinionID)
		return nil
	}

	for model, childDisplay := range child.ByModel {
		display := parent.ByModel[model]
		display.InputTokens += childDisplay.InputTokens
		display.OutputTokens += childDisplay.OutputTokens
		display.CacheReadTokens += childDisplay.CacheReadTokens
		display.CostUSD += childDisplay.CostUSD
		display.RequestCount += childDisplay.RequestCount
		parent.ByModel[model] = display
	}
	parent.RolledUpFrom[childMinionID] = true

	return l.save(parentMinionID, parent)
}
