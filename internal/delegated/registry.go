// Package delegated implements the DelegatedToolCallRegistry: a shared
// registry of tool calls handed off to an external actor (a human approval
// flow, a sidekick) instead of being executed locally by StreamManager.
package delegated

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotPending is returned by Answer/Cancel when no matching call is
// outstanding (already answered, canceled, or never registered).
var ErrNotPending = errors.New("delegated: no pending call for that id")

// ErrAlreadyPending is returned by RegisterPending when a call is already
// outstanding for the same (minionID, toolCallID) pair. A provider must
// never reuse a tool call ID while its previous registration is still
// unanswered; a second registration would silently orphan the first
// waiter's channel, so this is treated as an invariant violation rather
// than an overwrite.
var ErrAlreadyPending = errors.New("delegated: call already pending for that id")

// PendingCall identifies and timestamps one outstanding delegated call.
type PendingCall struct {
	MinionID   string
	ToolCallID string
	ToolName   string
	CreatedAt  time.Time
}

type outcome struct {
	value any
	err   error
}

type entry struct {
	call PendingCall
	done chan outcome
	once sync.Once
}

func (e *entry) settle(o outcome) {
	e.once.Do(func() {
		e.done <- o
		close(e.done)
	})
}

// Pending is the caller-facing handle returned by RegisterPending.
type Pending struct {
	Call PendingCall

	entry *entry
}

// Wait blocks until the call is answered or canceled, or ctx is done.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case o := <-p.entry.done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry is the DelegatedToolCallRegistry. One instance is shared by every
// minion's StreamManager in the process.
type Registry struct {
	mu      sync.Mutex
	pending map[string]map[string]*entry // minionID -> toolCallID -> entry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]map[string]*entry)}
}

// RegisterPending records a new outstanding delegated call and returns a
// handle the caller can Wait on. It returns ErrAlreadyPending without
// touching the existing entry if (minionID, toolCallID) is already
// outstanding.
func (r *Registry) RegisterPending(minionID, toolCallID, toolName string) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byID := r.pending[minionID]; byID != nil {
		if _, exists := byID[toolCallID]; exists {
			return nil, ErrAlreadyPending
		}
	}

	call := PendingCall{MinionID: minionID, ToolCallID: toolCallID, ToolName: toolName, CreatedAt: time.Now().UTC()}
	e := &entry{call: call, done: make(chan outcome, 1)}

	if r.pending[minionID] == nil {
		r.pending[minionID] = make(map[string]*entry)
	}
	r.pending[minionID][toolCallID] = e

	return &Pending{Call: call, entry: e}, nil
}

func (r *Registry) take(minionID, toolCallID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.pending[minionID]
	if byID == nil {
		return nil
	}
	e := byID[toolCallID]
	if e == nil {
		return nil
	}
	delete(byID, toolCallID)
	if len(byID) == 0 {
		delete(r.pending, minionID)
	}
	return e
}

// Answer resolves toolCallID with result, waking its Wait caller.
func (r *Registry) Answer(minionID, toolCallID string, result any) error {
	e := r.take(minionID, toolCallID)
	if e == nil {
		return ErrNotPending
	}
	e.settle(outcome{value: result})
	return nil
}

// Cancel rejects toolCallID's pending call with reason.
func (r *Registry) Cancel(minionID, toolCallID, reason string) error {
	e := r.take(minionID, toolCallID)
	if e == nil {
		return ErrNotPending
	}
	e.settle(outcome{err: errors.New(reason)})
	return nil
}

// CancelAll rejects every outstanding call for minionID with reason.
func (r *Registry) CancelAll(minionID, reason string) {
	r.mu.Lock()
	byID := r.pending[minionID]
	delete(r.pending, minionID)
	r.mu.Unlock()

	for _, e := range byID {
		e.settle(outcome{err: errors.New(reason)})
	}
}

// GetLatestPending returns the newest outstanding call for minionID by
// CreatedAt, if any.
func (r *Registry) GetLatestPending(minionID string) (PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *entry
	for _, e := range r.pending[minionID] {
		if latest == nil || e.call.CreatedAt.After(latest.call.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return PendingCall{}, false
	}
	return latest.call, true
}

// WaitWithAbort waits for resolution, and if ctx is canceled first, cancels
// the pending call itself with reason "Interrupted" before returning
// ctx.Err() — the shape AIService.WrapDelegated uses when wrapping a
// delegated tool's execute function with the tool's abort signal.
func (p *Pending) WaitWithAbort(ctx context.Context, r *Registry) (any, error) {
	select {
	case o := <-p.entry.done:
		return o.value, o.err
	case <-ctx.Done():
		_ = r.Cancel(p.Call.MinionID, p.Call.ToolCallID, "Interrupted")
		return nil, ctx.Err()
	}
}
