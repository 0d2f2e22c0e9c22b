package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/minionrt/internal/history"
	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/minion"
)

// HistoryBackend is the subset of internal/history.Store StreamManager
// needs: placeholder bookkeeping and partial accumulation.
type HistoryBackend interface {
	Append(minionID string, msg minion.Message) (int64, error)
	Update(minionID string, msg minion.Message) error
	WritePartial(minionID string, msg minion.Message) error
	DeletePartial(minionID string) error
	CommitPartial(minionID string) (minion.Message, error)
}

// streamState is the live bookkeeping for one minion's active (or most
// recently active) stream.
type streamState struct {
	mu     sync.Mutex
	state  State
	token  Token
	cancel context.CancelFunc

	messageID       string
	placeholder     minion.Message
	accumulatedText string
	toolArgsRaw     map[string]string // toolCallId -> accumulated raw JSON
	toolNames       map[string]string // toolCallId -> tool name, from tool-call-start
	toolOrder       []string          // toolCallId, in tool-call-start order
	toolResults     map[string]any    // toolCallId -> result, set on tool-call-end

	observedResponseIDs map[string]bool
	lostResponseIDs     map[string]bool

	// hadFirstEvent distinguishes a pre-stream abort (no provider event
	// seen yet — synthetic messageId) from a mid-stream abort.
	hadFirstEvent bool
	pendingStop   StopOptions
}

// Manager is StreamManager.
type Manager struct {
	history HistoryBackend
	logger  logging.Logger

	mu        sync.Mutex
	listeners []Listener
	streams   map[string]*streamState // keyed by minionId
}

// New constructs a Manager backed by history.
func New(history HistoryBackend, logger logging.Logger) *Manager {
	return &Manager{history: history, logger: logging.OrNop(logger), streams: make(map[string]*streamState)}
}

// Subscribe registers a Listener for every event the Manager emits, across
// all minions.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) emit(event Event) {
	event.Timestamp = time.Now()
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnEvent(event)
	}
}

func (m *Manager) stateFor(minionID string) *streamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[minionID]
	if !ok {
		s = &streamState{state: StateIdle}
		m.streams[minionID] = s
	}
	return s
}

// IsActive reports whether minionID currently has a running stream.
func (m *Manager) IsActive(minionID string) bool {
	s := m.stateFor(minionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStarting || s.state == StateStreaming
}

// StartStream begins a new stream for req.MinionID. Only one stream per
// minion may be active at a time — the caller (AgentSession) is
// responsible for serializing calls per minion.
func (m *Manager) StartStream(ctx context.Context, req StartRequest) (Token, error) {
	s := m.stateFor(req.MinionID)

	s.mu.Lock()
	if s.state == StateStarting || s.state == StateStreaming {
		s.mu.Unlock()
		return "", fmt.Errorf("stream: minion %q already has an active stream", req.MinionID)
	}
	token := Token(uuid.NewString())
	streamCtx, cancel := context.WithCancel(ctx)
	s.state = StateStarting
	s.token = token
	s.cancel = cancel
	s.placeholder = req.Placeholder
	s.messageID = req.Placeholder.ID
	s.accumulatedText = ""
	s.toolArgsRaw = make(map[string]string)
	s.toolNames = make(map[string]string)
	s.toolOrder = nil
	s.toolResults = make(map[string]any)
	s.observedResponseIDs = make(map[string]bool)
	s.lostResponseIDs = make(map[string]bool)
	s.mu.Unlock()

	if _, err := m.history.Append(req.MinionID, req.Placeholder); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return "", fmt.Errorf("stream: append placeholder: %w", err)
	}

	go m.drive(streamCtx, req.MinionID, token, req.Events)
	return token, nil
}

func (m *Manager) drive(ctx context.Context, minionID string, token Token, events <-chan ProviderEvent) {
	s := m.stateFor(minionID)

	for {
		select {
		case <-ctx.Done():
			m.handleAbort(minionID, s, token)
			return
		case ev, ok := <-events:
			if !ok {
				m.finalize(minionID, s, token)
				return
			}
			s.mu.Lock()
			first := !s.hadFirstEvent
			if first {
				s.hadFirstEvent = true
				if s.state == StateStarting {
					s.state = StateStreaming
				}
			}
			s.mu.Unlock()
			if first {
				m.emit(Event{Kind: EventStreamStart, MinionID: minionID, MessageID: s.messageID, Token: token})
			}
			if stop := m.applyProviderEvent(minionID, s, token, ev); stop {
				return
			}
		}
	}
}

// applyProviderEvent returns true if the stream has concluded (error or
// explicit completion from this event).
func (m *Manager) applyProviderEvent(minionID string, s *streamState, token Token, ev ProviderEvent) bool {
	switch ev.Kind {
	case ProviderTextDelta:
		s.mu.Lock()
		s.accumulatedText += ev.TextDelta
		text := s.accumulatedText
		s.mu.Unlock()
		m.writePartialText(minionID, s, text)
		m.emit(Event{Kind: EventStreamDelta, MinionID: minionID, MessageID: s.messageID, Token: token, TextDelta: ev.TextDelta})

	case ProviderToolCallStart:
		s.mu.Lock()
		s.toolArgsRaw[ev.ToolCallID] = ""
		s.toolNames[ev.ToolCallID] = ev.ToolName
		s.toolOrder = append(s.toolOrder, ev.ToolCallID)
		s.mu.Unlock()
		m.emit(Event{Kind: EventToolCallStart, MinionID: minionID, MessageID: s.messageID, Token: token, ToolCallID: ev.ToolCallID, ToolName: ev.ToolName})

	case ProviderToolCallDelta:
		s.mu.Lock()
		s.toolArgsRaw[ev.ToolCallID] += ev.ToolArgsDelta
		raw := s.toolArgsRaw[ev.ToolCallID]
		s.mu.Unlock()
		event := Event{Kind: EventToolCallDelta, MinionID: minionID, MessageID: s.messageID, Token: token, ToolCallID: ev.ToolCallID, ToolArgsJSON: raw}
		if args, err := repairToolArgs(raw); err == nil {
			event.ToolArgs = args
		}
		m.emit(event)

	case ProviderToolCallEnd:
		parent := s.messageID
		if ev.ParentToolCall != "" {
			parent = ev.ParentToolCall
		}
		s.mu.Lock()
		name := s.toolNames[ev.ToolCallID]
		s.toolResults[ev.ToolCallID] = ev.ToolResult
		text := s.accumulatedText
		s.mu.Unlock()
		m.writePartialText(minionID, s, text)
		m.emit(Event{Kind: EventToolCallEnd, MinionID: minionID, MessageID: s.messageID, Token: token,
			ToolCallID: ev.ToolCallID, ToolName: name, ToolResult: ev.ToolResult, ParentMessageID: parent})

	case ProviderReasoningDelta:
		m.emit(Event{Kind: EventReasoningDelta, MinionID: minionID, MessageID: s.messageID, Token: token, ReasoningDelta: ev.ReasoningDelta})

	case ProviderReasoningEnd:
		m.emit(Event{Kind: EventReasoningEnd, MinionID: minionID, MessageID: s.messageID, Token: token})

	case ProviderUsage:
		m.emit(Event{Kind: EventUsageDelta, MinionID: minionID, MessageID: s.messageID, Token: token, Usage: ev.Usage})

	case ProviderResponseID:
		s.mu.Lock()
		if ev.Lost {
			s.lostResponseIDs[ev.ResponseID] = true
		} else {
			s.observedResponseIDs[ev.ResponseID] = true
		}
		s.mu.Unlock()

	case ProviderCompleted:
		m.finalize(minionID, s, token)
		return true

	case ProviderError:
		m.handleError(minionID, s, token, ev)
		return true
	}
	return false
}

// toolCallParts builds one minion.PartDynamicTool per tool call that has
// reached tool-call-end, in tool-call-start order. A tool call still
// in-flight (started but not yet ended) produces no part — it is reflected
// once its end event lands.
func toolCallParts(s *streamState) []minion.Part {
	var parts []minion.Part
	for _, id := range s.toolOrder {
		result, done := s.toolResults[id]
		if !done {
			continue
		}
		args, _ := repairToolArgs(s.toolArgsRaw[id])
		parts = append(parts, minion.Part{
			Kind:       minion.PartDynamicTool,
			ToolCallID: id,
			ToolName:   s.toolNames[id],
			ToolInput:  args,
			ToolResult: result,
		})
	}
	return parts
}

func (m *Manager) writePartialText(minionID string, s *streamState, text string) {
	s.mu.Lock()
	placeholder := s.placeholder
	parts := append([]minion.Part{{Kind: minion.PartText, Text: text}}, toolCallParts(s)...)
	s.mu.Unlock()
	placeholder.Parts = parts
	placeholder.Metadata.Partial = true
	_ = m.history.WritePartial(minionID, placeholder)
}

// finalize handles stream-end: the placeholder is updated in place with
// final content and the partial is deleted.
func (m *Manager) finalize(minionID string, s *streamState, token Token) {
	s.mu.Lock()
	s.state = StateFinalizing
	placeholder := s.placeholder
	text := s.accumulatedText
	messageID := s.messageID
	parts := append([]minion.Part{{Kind: minion.PartText, Text: text}}, toolCallParts(s)...)
	s.mu.Unlock()

	placeholder.Parts = parts
	placeholder.Metadata.Partial = false
	_ = m.history.Update(minionID, placeholder)
	_ = m.history.DeletePartial(minionID)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	m.emit(Event{Kind: EventStreamEnd, MinionID: minionID, MessageID: messageID, Token: token})
}

// handleError keeps the partial for potential recovery (§4.8: "on error,
// keep partial; commitPartial is used by stream-abort unless
// abandonPartial") and still emits the error event.
func (m *Manager) handleError(minionID string, s *streamState, token Token, ev ProviderEvent) {
	s.mu.Lock()
	s.state = StateErrored
	messageID := s.messageID
	s.mu.Unlock()

	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	m.emit(Event{Kind: EventError, MinionID: minionID, MessageID: messageID, Token: token, ErrorMessage: msg, ErrorType: ev.ErrorType})
}

// handleAbort implements both stopStream branches from the drive-goroutine
// side: a pre-stream abort (no provider event yet) emits a synthetic
// stream-abort with a synthetic messageId; a mid-stream abort uses the
// real messageId. Either way, the partial is committed unless
// abandonPartial was requested.
func (m *Manager) handleAbort(minionID string, s *streamState, token Token) {
	s.mu.Lock()
	preStream := !s.hadFirstEvent
	messageID := s.messageID
	opts := s.pendingStop
	s.state = StateAborted
	s.mu.Unlock()

	if opts.AbandonPartial {
		_ = m.history.DeletePartial(minionID)
	} else {
		_, _ = m.history.CommitPartial(minionID)
	}

	emittedID := messageID
	if preStream {
		emittedID = "abort-" + uuid.NewString()
	}
	m.emit(Event{Kind: EventStreamAbort, MinionID: minionID, MessageID: emittedID, Token: token, AbortReason: opts.AbortReason, Soft: opts.Soft})

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// StopStream implements stopStream(minionId, options): if starting or
// streaming, cancels the provider context — drive()'s ctx.Done() branch
// does the actual partial-commit/discard and event emission via
// handleAbort, so there is exactly one code path for both phases.
func (m *Manager) StopStream(minionID string, opts StopOptions) error {
	s := m.stateFor(minionID)

	s.mu.Lock()
	state := s.state
	cancel := s.cancel
	if state == StateStarting || state == StateStreaming {
		s.pendingStop = opts
	}
	s.mu.Unlock()

	if state == StateStarting || state == StateStreaming {
		if cancel != nil {
			cancel()
		}
	}
	return nil
}

// CommitPartial folds any partial left over for minionID into history,
// e.g. one orphaned by a process crash between finalize/handleError/
// handleAbort runs. It is idempotent: no partial is not an error.
func (m *Manager) CommitPartial(minionID string) (minion.Message, error) {
	msg, err := m.history.CommitPartial(minionID)
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		return minion.Message{}, err
	}
	return msg, nil
}

// IsResponseIDLost implements the isResponseIdLost predicate: a
// previousResponseId lookup must skip any responseId the server has
// reported lost, even if this client previously observed it.
func (m *Manager) IsResponseIDLost(minionID, responseID string) bool {
	s := m.stateFor(minionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostResponseIDs[responseID]
}
