package aiservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/chatdriver"
	"github.com/latticehq/minionrt/internal/delegated"
	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/idutil"
	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/mcppool"
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/pipeline"
	"github.com/latticehq/minionrt/internal/runtime"
	"github.com/latticehq/minionrt/internal/stream"
	"github.com/latticehq/minionrt/internal/usage"
)

// pendingStart is the AbortController-equivalent for the window between
// StreamMessage's entry and the moment it hands off to StreamManager
//.
type pendingStart struct {
	cancel      context.CancelFunc
	syntheticID string
}

// simFlags are the per-minion simulation hooks.
type simFlags struct {
	forceContextLimitError bool
	simulateToolPolicyNoop bool
}

// Option configures a Service at construction.
type Option func(*Service)

// WithStreamRuntime overrides the abstract provider boundary (tests inject
// a fake; production wires a real SDK adapter — out of scope here).
func WithStreamRuntime(r StreamRuntime) Option {
	return func(s *Service) { s.streamRuntime = r }
}

// WithPreparer overrides the MessagePipeline boundary.
func WithPreparer(p MessagePreparer) Option {
	return func(s *Service) { s.preparer = p }
}

// WithDelegatedToolNames sets which tool names get delegated-call wrapping.
func WithDelegatedToolNames(names ...string) Option {
	return func(s *Service) {
		for _, n := range names {
			s.delegatedToolNames[n] = true
		}
	}
}

// Service is AIService: it implements chatdriver.ChatDriver, composing
// runtime readiness, MCP tool acquisition, MessagePipeline, and
// StreamManager per request.
type Service struct {
	runtime   runtime.Runtime
	mcp       *mcppool.Pool
	streamMgr *stream.Manager
	delegated *delegated.Registry
	usage     *usage.Ledger
	resolver  *agentresolver.Resolver
	logger    logging.Logger

	streamRuntime StreamRuntime
	preparer      MessagePreparer

	delegatedToolNames map[string]bool

	mu            sync.Mutex
	minions       map[string]minion.Minion
	pendingStarts map[string]pendingStart
	leaseHeld     map[string]bool
	sim           map[string]simFlags
	lastRequest   map[string]LastLLMRequest
	lastUsage     map[string]minion.Usage

	listeners []stream.Listener
}

var _ chatdriver.ChatDriver = (*Service)(nil)

// New constructs a Service. streamMgr is shared with whatever else in the
// process needs to observe stream events (e.g. an httpapi websocket
// fan-out); Service only ever starts streams through it, never bypasses
// it.
func New(rt runtime.Runtime, mcp *mcppool.Pool, streamMgr *stream.Manager, registry *delegated.Registry,
	ledger *usage.Ledger, resolver *agentresolver.Resolver, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		runtime:            rt,
		mcp:                mcp,
		streamMgr:          streamMgr,
		delegated:          registry,
		usage:              ledger,
		resolver:           resolver,
		logger:             logging.OrNop(logger),
		preparer:           DefaultPreparer,
		delegatedToolNames: make(map[string]bool),
		minions:            make(map[string]minion.Minion),
		pendingStarts:      make(map[string]pendingStart),
		leaseHeld:          make(map[string]bool),
		sim:                make(map[string]simFlags),
		lastRequest:        make(map[string]LastLLMRequest),
		lastUsage:          make(map[string]minion.Usage),
	}
	for _, opt := range opts {
		opt(s)
	}
	streamMgr.Subscribe(stream.ListenerFunc(s.onStreamEvent))
	return s
}

// RegisterMinion makes m visible to GetMinionMetadata and EnsureReady.
func (s *Service) RegisterMinion(m minion.Minion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minions[m.ID] = m
}

func (s *Service) GetMinionMetadata(minionID string) (minion.Minion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.minions[minionID]
	return m, ok
}

// SetForceContextLimitError and SetSimulateToolPolicyNoop implement the
// AIService simulation hooks: set, they take precedence
// over real streaming.
func (s *Service) SetForceContextLimitError(minionID string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.sim[minionID]
	f.forceContextLimitError = v
	s.sim[minionID] = f
}

func (s *Service) SetSimulateToolPolicyNoop(minionID string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.sim[minionID]
	f.simulateToolPolicyNoop = v
	s.sim[minionID] = f
}

func (s *Service) simulationFor(minionID string) simFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim[minionID]
}

// GetLastLLMRequest returns the most recent debug snapshot captured for
// minionID, if any. This accessor — like the snapshot itself — never
// affects control flow.
func (s *Service) GetLastLLMRequest(minionID string) (LastLLMRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastRequest[minionID]
	return r, ok
}

func (s *Service) captureLastRequest(minionID string, req StreamRuntimeInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRequest[minionID] = LastLLMRequest{MinionID: minionID, Request: req, CapturedAt: time.Now()}
}

func (s *Service) Subscribe(l stream.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) emit(e stream.Event) {
	s.mu.Lock()
	listeners := append([]stream.Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l.OnEvent(e)
	}
}

// onStreamEvent forwards every StreamManager event to Service's own
// subscribers and releases the MCP lease exactly once a stream
// reaches a terminal state.
func (s *Service) onStreamEvent(e stream.Event) {
	s.emit(e)
	switch e.Kind {
	case stream.EventStreamEnd, stream.EventError, stream.EventStreamAbort:
		s.releaseLeaseIfHeld(e.MinionID)
	case stream.EventUsageDelta:
		if e.Usage != nil {
			s.mu.Lock()
			s.lastUsage[e.MinionID] = *e.Usage
			s.mu.Unlock()
		}
	}
}

func (s *Service) releaseLeaseIfHeld(minionID string) {
	s.mu.Lock()
	held := s.leaseHeld[minionID]
	s.leaseHeld[minionID] = false
	s.mu.Unlock()
	if held {
		s.mcp.ReleaseLease(minionID)
	}
}

func (s *Service) setPending(minionID string, cancel context.CancelFunc, syntheticID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingStarts[minionID] = pendingStart{cancel: cancel, syntheticID: syntheticID}
}

func (s *Service) clearPending(minionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingStarts, minionID)
}

func (s *Service) takePending(minionID string) (pendingStart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pendingStarts[minionID]
	if ok {
		delete(s.pendingStarts, minionID)
	}
	return p, ok
}

// StreamMessage implements chatdriver.ChatDriver. It commits any stale
// partial first (idempotent), ensures runtime readiness, acquires an MCP
// lease and fetches the minion's tool surface, applies the simulation
// hooks, and — only once all of that pre-provider work has completed
// without an intervening StopStream — hands off to StreamManager.
func (s *Service) StreamMessage(ctx context.Context, in chatdriver.StreamMessageInput) (stream.Token, error) {
	m, ok := s.GetMinionMetadata(in.MinionID)
	if !ok {
		return "", fmt.Errorf("aiservice: unknown minion %q", in.MinionID)
	}

	if _, err := s.streamMgr.CommitPartial(in.MinionID); err != nil {
		s.logger.Warn("aiservice: commit stale partial minionId=%s: %v", in.MinionID, err)
	}

	startCtx, cancel := context.WithCancel(ctx)
	synthetic := idutil.Synthetic("abort")
	s.setPending(in.MinionID, cancel, synthetic)
	defer cancel()

	if err := s.runtime.EnsureReady(startCtx, m, func(ev runtime.StatusEvent) {
		s.emit(stream.Event{Kind: stream.EventKind("runtime-status"), MinionID: in.MinionID, MessageID: synthetic, ErrorMessage: ev.Detail})
	}); err != nil {
		s.clearPending(in.MinionID)
		if startCtx.Err() != nil {
			return s.emitPreStreamAbort(in.MinionID, synthetic, "startup")
		}
		s.emit(stream.Event{Kind: stream.EventError, MinionID: in.MinionID, MessageID: synthetic,
			ErrorMessage: err.Error(), ErrorType: string(errutil.KindOf(err))})
		return "", err
	}

	s.mcp.AcquireLease(in.MinionID)
	s.mu.Lock()
	s.leaseHeld[in.MinionID] = true
	s.mu.Unlock()

	tools, err := s.mcp.GetToolsForMinion(startCtx, in.MinionID, nil, nil)
	if err != nil {
		s.releaseLeaseIfHeld(in.MinionID)
		s.clearPending(in.MinionID)
		if startCtx.Err() != nil {
			return s.emitPreStreamAbort(in.MinionID, synthetic, "startup")
		}
		s.emit(stream.Event{Kind: stream.EventError, MinionID: in.MinionID, MessageID: synthetic,
			ErrorMessage: err.Error(), ErrorType: string(errutil.KindOf(err))})
		return "", err
	}

	resolved, err := s.resolver.Resolve(startCtx, agentresolver.ResolveInput{
		RequestedAgentID:   m.AgentID,
		MinionID:           m.ID,
		ParentMinionID:     m.ParentMinionID,
		IsSidekick:         m.IsSidekick(),
		PersistedAgentID:   m.AgentID,
		PersistedAgentType: m.AgentID,
	})
	if err != nil {
		s.releaseLeaseIfHeld(in.MinionID)
		s.clearPending(in.MinionID)
		if startCtx.Err() != nil {
			return s.emitPreStreamAbort(in.MinionID, synthetic, "startup")
		}
		s.emit(stream.Event{Kind: stream.EventError, MinionID: in.MinionID, MessageID: synthetic,
			ErrorMessage: err.Error(), ErrorType: string(errutil.KindOf(err))})
		return "", err
	}
	tools = applyToolPolicy(tools, resolved)

	sim := s.simulationFor(in.MinionID)
	if in.ForceContextLimitError || sim.forceContextLimitError {
		s.releaseLeaseIfHeld(in.MinionID)
		s.clearPending(in.MinionID)
		cerr := errutil.NewMinionError(errutil.KindContextExceeded, in.MinionID, synthetic, nil)
		s.emit(stream.Event{Kind: stream.EventError, MinionID: in.MinionID, MessageID: synthetic,
			ErrorMessage: cerr.Error(), ErrorType: string(errutil.KindContextExceeded)})
		return "", cerr
	}

	if startCtx.Err() != nil {
		s.releaseLeaseIfHeld(in.MinionID)
		s.clearPending(in.MinionID)
		return s.emitPreStreamAbort(in.MinionID, synthetic, "startup")
	}

	prepared := s.preparer.Prepare(pipeline.Input{
		MinionID:                 in.MinionID,
		Messages:                 in.Messages,
		Provider:                 in.Provider,
		ThinkingLevel:            in.ThinkingLevel,
		CurrentMode:              resolved.Mode,
		PostCompactionAttachment: in.PostCompactionAttachment,
		PromptCacheKeyPrefix:     in.PromptCacheKey,
	})

	promptCacheKey := prepared.PromptCacheKey
	if promptCacheKey == "" {
		promptCacheKey = in.PromptCacheKey
	}

	runtimeIn := StreamRuntimeInput{
		MinionID:                     in.MinionID,
		Messages:                     prepared.Messages,
		Tools:                        tools,
		ProviderOptions:              prepared.ProviderOptions,
		PromptCacheKey:               promptCacheKey,
		AdditionalSystemInstructions: in.AdditionalSystemInstructions,
	}
	s.captureLastRequest(in.MinionID, runtimeIn)

	var events <-chan stream.ProviderEvent
	if in.SimulateToolPolicyNoop || sim.simulateToolPolicyNoop {
		events = feedSimulatedEvents(simulateToolPolicyNoopEvents())
	} else {
		events, err = s.streamRuntime.StartProviderStream(ctx, runtimeIn)
		if err != nil {
			s.releaseLeaseIfHeld(in.MinionID)
			s.clearPending(in.MinionID)
			s.emit(stream.Event{Kind: stream.EventError, MinionID: in.MinionID, MessageID: synthetic,
				ErrorMessage: err.Error(), ErrorType: string(errutil.KindOf(err))})
			return "", err
		}
	}

	// Hand off ownership: from here on a StopStream call must go through
	// StreamManager, which owns the stream for the rest of its life.
	s.clearPending(in.MinionID)

	placeholder := minion.Message{
		ID:   idutil.New(),
		Role: minion.RoleAssistant,
		Metadata: minion.Metadata{
			Partial: true,
		},
	}

	return s.streamMgr.StartStream(ctx, stream.StartRequest{
		MinionID:    in.MinionID,
		Placeholder: placeholder,
		Events:      events,
	})
}

func (s *Service) emitPreStreamAbort(minionID, syntheticID, reason string) (stream.Token, error) {
	s.emit(stream.Event{Kind: stream.EventStreamAbort, MinionID: minionID, MessageID: syntheticID, AbortReason: reason})
	return "", context.Canceled
}

// StopStream interrupts either the pre-StreamManager window (cancels the
// AbortController, emitting a synthetic stream-abort directly) or, once
// ownership has passed to StreamManager, forwards to it.
func (s *Service) StopStream(minionID string, opts stream.StopOptions) error {
	if p, ok := s.takePending(minionID); ok {
		p.cancel()
		reason := opts.AbortReason
		if reason == "" {
			reason = "startup"
		}
		s.emit(stream.Event{Kind: stream.EventStreamAbort, MinionID: minionID, MessageID: p.syntheticID,
			AbortReason: reason, Soft: opts.Soft})
		s.releaseLeaseIfHeld(minionID)
		return nil
	}
	return s.streamMgr.StopStream(minionID, opts)
}

// RecordModelUsage persists the last observed usage-delta for minionID
// into the SessionUsageLedger under model, implementing the
// sum-never-subtracts accounting rule from whatever
// StreamManager last reported.
func (s *Service) RecordModelUsage(minionID, model string) error {
	s.mu.Lock()
	u, ok := s.lastUsage[minionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.usage.RecordUsage(minionID, model, u)
}
