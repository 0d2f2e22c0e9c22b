// Package initstate tracks a minion's init-hook lifecycle (pending →
// init_hook → completed), persists it to init-status.json via the generic
// eventstore, and lets tool calls wait on it without ever failing the call
// that's waiting.
package initstate

import (
	"context"
	"sync"
	"time"

	"github.com/latticehq/minionrt/internal/eventstore"
	"github.com/latticehq/minionrt/internal/logging"
)

// MaxLines bounds how many output lines are retained in memory/on disk;
// older lines are dropped and counted in TruncatedLines.
const MaxLines = 500

// HookTimeout is the budget waitForInit allows once the hook phase starts,
// measured from HookStartTime. Expiry does not propagate as an error — the
// caller proceeds as if init had finished.
const HookTimeout = 5 * time.Minute

const statusFileName = "init-status.json"

// Phase is where a minion's init sequence currently stands.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseInitHook Phase = "init_hook"
)

// OutputLine is one captured line of init-hook stdout/stderr.
type OutputLine struct {
	Line      string    `json:"line"`
	IsError   bool      `json:"isError"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the persisted snapshot for one minion's init sequence.
type State struct {
	MinionID       string       `json:"minionId"`
	HookPath       string       `json:"hookPath"`
	Phase          Phase        `json:"phase"`
	Lines          []OutputLine `json:"lines"`
	TruncatedLines int          `json:"truncatedLines,omitempty"`
	HookStartTime  time.Time    `json:"hookStartTime,omitempty"`
	Completed      bool         `json:"completed"`
	ExitCode       int          `json:"exitCode,omitempty"`
}

// EventKind tags a replayed init event.
type EventKind string

const (
	EventInitStart  EventKind = "init-start"
	EventInitOutput EventKind = "init-output"
	EventInitEnd    EventKind = "init-end"
)

// Event is one entry in an init-hook's replayable timeline.
type Event struct {
	Kind           EventKind
	HookPath       string    `json:"hookPath,omitempty"`
	Line           string    `json:"line,omitempty"`
	IsError        bool      `json:"isError,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	ExitCode       int       `json:"exitCode,omitempty"`
	TruncatedLines int       `json:"truncatedLines,omitempty"`
}

func serialize(state State) []Event {
	events := []Event{{Kind: EventInitStart, HookPath: state.HookPath}}
	for _, line := range state.Lines {
		events = append(events, Event{
			Kind:      EventInitOutput,
			Line:      line.Line,
			IsError:   line.IsError,
			Timestamp: line.Timestamp,
		})
	}
	if state.Completed {
		events = append(events, Event{
			Kind:           EventInitEnd,
			ExitCode:       state.ExitCode,
			TruncatedLines: state.TruncatedLines,
		})
	}
	return events
}

// signal is a once-closable channel standing in for a JS-style promise:
// resolve() is idempotent, and waiters select on done().
type signal struct {
	ch   chan struct{}
	once sync.Once
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) resolve()            { s.once.Do(func() { close(s.ch) }) }
func (s *signal) done() <-chan struct{} { return s.ch }

type liveState struct {
	completion *signal
	hookPhase  *signal
}

// Manager is the process-wide InitStateManager.
type Manager struct {
	store  *eventstore.Store[State, Event]
	logger logging.Logger

	mu   sync.Mutex
	live map[string]*liveState
}

// NewManager constructs a Manager persisting under dataRoot/<minionId>/init-status.json.
func NewManager(dataRoot string, logger logging.Logger) *Manager {
	logger = logging.OrNop(logger)
	return &Manager{
		store:  eventstore.New(dataRoot, statusFileName, serialize, logger),
		logger: logger,
		live:   make(map[string]*liveState),
	}
}

// StartInit creates fresh state for minionID and allocates its completion
// and hookPhase signals.
func (m *Manager) StartInit(minionID, hookPath string) {
	m.store.Set(minionID, State{MinionID: minionID, HookPath: hookPath, Phase: PhasePending})

	m.mu.Lock()
	m.live[minionID] = &liveState{completion: newSignal(), hookPhase: newSignal()}
	m.mu.Unlock()

	m.logger.Info("init started minionId=%s hookPath=%s", minionID, hookPath)
}

// AppendOutput records one captured line, truncating the oldest lines once
// MaxLines is exceeded.
func (m *Manager) AppendOutput(minionID, line string, isError bool) {
	state, ok := m.store.Get(minionID)
	if !ok {
		return
	}
	state.Lines = append(state.Lines, OutputLine{Line: line, IsError: isError, Timestamp: time.Now().UTC()})
	if over := len(state.Lines) - MaxLines; over > 0 {
		state.Lines = state.Lines[over:]
		state.TruncatedLines += over
	}
	m.store.Set(minionID, state)
}

// EnterHookPhase transitions minionID into the init_hook phase and resolves
// its hookPhase signal, unblocking the timeout arm of any waiter.
func (m *Manager) EnterHookPhase(minionID string) {
	state, ok := m.store.Get(minionID)
	if !ok {
		return
	}
	state.Phase = PhaseInitHook
	state.HookStartTime = time.Now().UTC()
	m.store.Set(minionID, state)

	m.mu.Lock()
	live := m.live[minionID]
	m.mu.Unlock()
	if live != nil {
		live.hookPhase.resolve()
	}
}

// EndInit persists the completed state before touching memory (invariant:
// if an init-end event is observable, the file backing it already exists),
// then resolves completion and forgets the live signals.
func (m *Manager) EndInit(minionID string, exitCode int) error {
	state, ok := m.store.Get(minionID)
	if !ok {
		return nil
	}
	state.Completed = true
	state.ExitCode = exitCode

	if err := m.store.Persist(minionID, state); err != nil {
		return err
	}
	m.store.Set(minionID, state)

	m.mu.Lock()
	live := m.live[minionID]
	delete(m.live, minionID)
	m.mu.Unlock()

	if live != nil {
		live.completion.resolve()
	}
	m.logger.Info("init ended minionId=%s exitCode=%d", minionID, exitCode)
	return nil
}

// WaitForInit never returns an error. It returns immediately if there is no
// tracked state, the state is already completed, or ctx is already done.
// Otherwise it blocks until completion, ctx cancellation, or a 5-minute
// timeout that only starts once the hook phase begins — timeout expiry is
// silent; the caller proceeds exactly as on normal completion.
func (m *Manager) WaitForInit(ctx context.Context, minionID string) {
	state, ok := m.store.Get(minionID)
	if !ok || state.Completed {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}

	m.mu.Lock()
	live := m.live[minionID]
	m.mu.Unlock()
	if live == nil {
		return
	}

	select {
	case <-live.completion.done():
	case <-ctx.Done():
	case <-m.hookTimeoutChannel(minionID, live):
	}
}

// hookTimeoutChannel returns a channel that closes HookTimeout after
// hookPhase resolves (not before), or never if completion resolves first.
func (m *Manager) hookTimeoutChannel(minionID string, live *liveState) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		select {
		case <-live.hookPhase.done():
		case <-live.completion.done():
			return
		}
		state, _ := m.store.Get(minionID)
		start := state.HookStartTime
		if start.IsZero() {
			start = time.Now()
		}
		remaining := HookTimeout - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
			close(ch)
		case <-live.completion.done():
		}
	}()
	return ch
}

// ClearInMemoryState unblocks any waiters (WaitForInit swallows the result
// either way) and forgets the live signals, leaving disk state untouched.
func (m *Manager) ClearInMemoryState(minionID string) {
	m.mu.Lock()
	live := m.live[minionID]
	delete(m.live, minionID)
	m.mu.Unlock()

	if live != nil {
		live.hookPhase.resolve()
		live.completion.resolve()
	}
}

// Replay emits start → outputs → end (if completed) for minionID, preferring
// in-memory state over the persisted file.
func (m *Manager) Replay(minionID string, emitter eventstore.Emitter[Event]) (bool, error) {
	return m.store.Replay(minionID, emitter)
}
