// Package stream implements StreamManager: the per-minion streaming state
// machine that multiplexes provider events into persisted history and
// subscriber-facing typed events, owning at most one active stream per
// minion at a time.
package stream

import (
	"time"

	"github.com/latticehq/minionrt/internal/minion"
)

// State is a stream's position in the per-minion state machine.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateStreaming  State = "streaming"
	StateErrored    State = "errored"
	StateFinalizing State = "finalizing"
	StateAborted    State = "aborted"
)

// Token is an opaque per-stream identifier that StartStream allocates,
// records in the Manager's per-minion state and stamps on every Event of
// that stream. No temp dir or other on-disk state is keyed by it.
type Token string

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	EventStreamStart    EventKind = "stream-start"
	EventStreamDelta    EventKind = "stream-delta"
	EventToolCallStart  EventKind = "tool-call-start"
	EventToolCallDelta  EventKind = "tool-call-delta"
	EventToolCallEnd    EventKind = "tool-call-end"
	EventReasoningDelta EventKind = "reasoning-delta"
	EventReasoningEnd   EventKind = "reasoning-end"
	EventUsageDelta     EventKind = "usage-delta"
	EventStreamEnd      EventKind = "stream-end"
	EventStreamAbort    EventKind = "stream-abort"
	EventError          EventKind = "error"
)

// Event is one typed, subscriber-facing occurrence on a minion's stream.
type Event struct {
	Kind      EventKind `json:"kind"`
	MinionID  string    `json:"minionId"`
	MessageID string    `json:"messageId"`
	Token     Token     `json:"token,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	TextDelta string `json:"textDelta,omitempty"`

	ToolCallID   string         `json:"toolCallId,omitempty"`
	ToolName     string         `json:"toolName,omitempty"`
	ToolArgs     map[string]any `json:"toolArgs,omitempty"`
	ToolArgsJSON string         `json:"toolArgsJson,omitempty"`
	ToolResult   any            `json:"toolResult,omitempty"`

	ReasoningDelta string `json:"reasoningDelta,omitempty"`

	Usage *minion.Usage `json:"usage,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorType    string `json:"errorType,omitempty"`

	AbortReason string `json:"abortReason,omitempty"`
	Soft        bool   `json:"soft,omitempty"`

	// ParentMessageID re-attaches a nested Programmatic Tool Calling event
	// to the assistant message that spawned it.
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

// Listener receives every Event emitted across all minions the Manager
// knows about; implementations filter by MinionID/Kind as needed.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }

// ProviderEventKind tags a raw event arriving from the (out-of-scope)
// concrete provider SDK, already normalized to this shape by ChatDriver.
type ProviderEventKind string

const (
	ProviderTextDelta      ProviderEventKind = "text-delta"
	ProviderToolCallStart  ProviderEventKind = "tool-call-start"
	ProviderToolCallDelta  ProviderEventKind = "tool-call-delta"
	ProviderToolCallEnd    ProviderEventKind = "tool-call-end"
	ProviderReasoningDelta ProviderEventKind = "reasoning-delta"
	ProviderReasoningEnd   ProviderEventKind = "reasoning-end"
	ProviderUsage          ProviderEventKind = "usage"
	ProviderResponseID     ProviderEventKind = "response-id"
	ProviderCompleted      ProviderEventKind = "completed"
	ProviderError          ProviderEventKind = "error"
)

// ProviderEvent is one raw event off the provider stream.
type ProviderEvent struct {
	Kind ProviderEventKind

	TextDelta string

	ToolCallID     string
	ToolName       string
	ToolArgsDelta  string
	ToolResult     any
	ParentToolCall string

	ReasoningDelta string

	Usage *minion.Usage

	ResponseID string
	Lost       bool

	Err       error
	ErrorType string
}

// StartRequest carries everything StartStream needs to begin a turn.
type StartRequest struct {
	MinionID    string
	Placeholder minion.Message
	Events      <-chan ProviderEvent
}

// StopOptions parameterize stopStream.
type StopOptions struct {
	Soft           bool
	AbandonPartial bool
	AbortReason    string
}
