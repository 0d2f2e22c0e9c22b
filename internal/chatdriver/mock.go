package chatdriver

import (
	"context"
	"sync"

	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/idutil"
	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/stream"
)

// Mock is a scriptable ChatDriver backed by a real stream.Manager, so
// callers (AgentSession, and this package's own tests) exercise the real
// event-ordering guarantees (stream-start precedes deltas precedes
// stream-end) instead of a hand-rolled fake sequence.
type Mock struct {
	mgr *stream.Manager

	mu      sync.Mutex
	minions map[string]minion.Minion
	scripts map[string][][]stream.ProviderEvent
	calls   []StreamMessageInput
}

// NewMock constructs a Mock driving streams through history.
func NewMock(history stream.HistoryBackend, logger logging.Logger) *Mock {
	return &Mock{
		mgr:     stream.New(history, logger),
		minions: make(map[string]minion.Minion),
		scripts: make(map[string][][]stream.ProviderEvent),
	}
}

// Manager returns the stream.Manager backing this Mock, so callers outside
// AgentSession (httpapi's event hub, observability's active-stream gauge)
// can Subscribe to the same event stream.
func (m *Mock) Manager() *stream.Manager {
	return m.mgr
}

// RegisterMinion makes m visible to GetMinionMetadata.
func (m *Mock) RegisterMinion(mn minion.Minion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minions[mn.ID] = mn
}

// EnqueueEvents schedules the next StreamMessage call for minionID to emit
// exactly these ProviderEvents, in order, instead of the default canned
// response.
func (m *Mock) EnqueueEvents(minionID string, events []stream.ProviderEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[minionID] = append(m.scripts[minionID], events)
}

// EnqueueTextResponse is a convenience wrapper for the common case: a
// single text reply followed by normal completion.
func (m *Mock) EnqueueTextResponse(minionID, text string) {
	m.EnqueueEvents(minionID, []stream.ProviderEvent{
		{Kind: stream.ProviderTextDelta, TextDelta: text},
		{Kind: stream.ProviderCompleted},
	})
}

// EnqueueContextExceeded schedules a context_exceeded error as the next
// response, for exercising AgentSession's retry path.
func (m *Mock) EnqueueContextExceeded(minionID string) {
	m.EnqueueEvents(minionID, []stream.ProviderEvent{
		{Kind: stream.ProviderError, ErrorType: string(errutil.KindContextExceeded),
			Err: errutil.NewMinionError(errutil.KindContextExceeded, minionID, "", nil)},
	})
}

// Calls returns every StreamMessageInput passed to StreamMessage so far,
// in order — used by tests asserting call counts/arguments.
func (m *Mock) Calls() []StreamMessageInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StreamMessageInput(nil), m.calls...)
}

func (m *Mock) next(minionID string) []stream.ProviderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if queued := m.scripts[minionID]; len(queued) > 0 {
		m.scripts[minionID] = queued[1:]
		return queued[0]
	}
	return []stream.ProviderEvent{
		{Kind: stream.ProviderTextDelta, TextDelta: "ok"},
		{Kind: stream.ProviderCompleted},
	}
}

func (m *Mock) StreamMessage(ctx context.Context, in StreamMessageInput) (stream.Token, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()

	if in.ForceContextLimitError {
		return m.driveScripted(ctx, in.MinionID, []stream.ProviderEvent{
			{Kind: stream.ProviderError, ErrorType: string(errutil.KindContextExceeded),
				Err: errutil.NewMinionError(errutil.KindContextExceeded, in.MinionID, "", nil)},
		})
	}

	return m.driveScripted(ctx, in.MinionID, m.next(in.MinionID))
}

func (m *Mock) driveScripted(ctx context.Context, minionID string, events []stream.ProviderEvent) (stream.Token, error) {
	placeholder := minion.Message{
		ID:   idutil.New(),
		Role: minion.RoleAssistant,
		Metadata: minion.Metadata{
			Partial: true,
		},
	}

	ch := make(chan stream.ProviderEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	return m.mgr.StartStream(ctx, stream.StartRequest{
		MinionID:    minionID,
		Placeholder: placeholder,
		Events:      ch,
	})
}

func (m *Mock) StopStream(minionID string, opts stream.StopOptions) error {
	return m.mgr.StopStream(minionID, opts)
}

func (m *Mock) GetMinionMetadata(minionID string) (minion.Minion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mn, ok := m.minions[minionID]
	return mn, ok
}

func (m *Mock) Subscribe(l stream.Listener) {
	m.mgr.Subscribe(l)
}
