package aiservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/chatdriver"
	"github.com/latticehq/minionrt/internal/delegated"
	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/mcppool"
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/runtime"
	"github.com/latticehq/minionrt/internal/stream"
	"github.com/latticehq/minionrt/internal/usage"
)

type fakeRuntime struct {
	mu         sync.Mutex
	err        error
	blockUntil chan struct{}
}

func (r *fakeRuntime) EnsureReady(ctx context.Context, m minion.Minion, onStatus runtime.StatusFunc) error {
	onStatus(runtime.StatusEvent{MinionID: m.ID, Kind: runtime.StatusChecking})
	if r.blockUntil != nil {
		select {
		case <-r.blockUntil:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	onStatus(runtime.StatusEvent{MinionID: m.ID, Kind: runtime.StatusReady})
	return nil
}

type fakeStreamRuntime struct {
	mu     sync.Mutex
	events []stream.ProviderEvent
	err    error
	calls  []StreamRuntimeInput
}

func (f *fakeStreamRuntime) StartProviderStream(ctx context.Context, in StreamRuntimeInput) (<-chan stream.ProviderEvent, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	err := f.err
	events := append([]stream.ProviderEvent(nil), f.events...)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		events = []stream.ProviderEvent{{Kind: stream.ProviderTextDelta, TextDelta: "ok"}, {Kind: stream.ProviderCompleted}}
	}
	ch := make(chan stream.ProviderEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (f *fakeStreamRuntime) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeHistoryBackend struct {
	mu          sync.Mutex
	partial     map[string]minion.Message
	commitCalls []string
}

func newFakeHistoryBackend() *fakeHistoryBackend {
	return &fakeHistoryBackend{partial: make(map[string]minion.Message)}
}

func (h *fakeHistoryBackend) Append(minionID string, msg minion.Message) (int64, error) { return 1, nil }
func (h *fakeHistoryBackend) Update(minionID string, msg minion.Message) error          { return nil }
func (h *fakeHistoryBackend) WritePartial(minionID string, msg minion.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partial[minionID] = msg
	return nil
}
func (h *fakeHistoryBackend) DeletePartial(minionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.partial, minionID)
	return nil
}
func (h *fakeHistoryBackend) CommitPartial(minionID string) (minion.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commitCalls = append(h.commitCalls, minionID)
	msg := h.partial[minionID]
	delete(h.partial, minionID)
	return msg, nil
}

func (h *fakeHistoryBackend) hasPartial(minionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.partial[minionID]
	return ok
}

func (h *fakeHistoryBackend) committed(minionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range h.commitCalls {
		if id == minionID {
			n++
		}
	}
	return n
}

type eventCollector struct {
	mu     sync.Mutex
	events []stream.Event
}

func (c *eventCollector) OnEvent(e stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) has(kind stream.EventKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, rt runtime.Runtime, sr *fakeStreamRuntime) (*Service, *eventCollector) {
	t.Helper()
	mgr := stream.New(newFakeHistoryBackend(), nil)
	pool := mcppool.New(nil)
	resolver := agentresolver.New(agentresolver.MapLoader{"exec": {ID: "exec"}}, nil, nil)
	svc := New(rt, pool, mgr, delegated.NewRegistry(), usage.New(t.TempDir(), nil), resolver, nil,
		WithStreamRuntime(sr))
	svc.RegisterMinion(minion.Minion{ID: "m1", Name: "test"})
	col := &eventCollector{}
	svc.Subscribe(col)
	return svc, col
}

func TestStreamMessageUnknownMinionErrors(t *testing.T) {
	svc, _ := newTestService(t, &fakeRuntime{}, &fakeStreamRuntime{})
	_, err := svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "nope"})
	require.Error(t, err)
}

func TestStreamMessageRuntimeFailureEmitsError(t *testing.T) {
	svc, col := newTestService(t, &fakeRuntime{err: errors.New("boom")}, &fakeStreamRuntime{})
	_, err := svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "m1"})
	require.Error(t, err)
	assert.True(t, col.has(stream.EventError))
}

func TestStreamMessageCommitsStalePartialOnEntry(t *testing.T) {
	hist := newFakeHistoryBackend()
	hist.partial["m1"] = minion.Message{ID: "orphaned-placeholder"}
	mgr := stream.New(hist, nil)
	pool := mcppool.New(nil)
	resolver := agentresolver.New(agentresolver.MapLoader{"exec": {ID: "exec"}}, nil, nil)
	svc := New(&fakeRuntime{}, pool, mgr, delegated.NewRegistry(), usage.New(t.TempDir(), nil), resolver, nil,
		WithStreamRuntime(&fakeStreamRuntime{}))
	svc.RegisterMinion(minion.Minion{ID: "m1", Name: "test"})

	require.True(t, hist.hasPartial("m1"))

	_, err := svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "m1"})
	require.NoError(t, err)

	assert.Equal(t, 1, hist.committed("m1"))
}

func TestStreamMessageHappyPathReleasesLeaseOnCompletion(t *testing.T) {
	sr := &fakeStreamRuntime{}
	svc, col := newTestService(t, &fakeRuntime{}, sr)

	_, err := svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return col.has(stream.EventStreamEnd) }, time.Second, time.Millisecond)
	svc.mu.Lock()
	held := svc.leaseHeld["m1"]
	svc.mu.Unlock()
	assert.False(t, held)
	assert.Equal(t, 1, sr.callCount())
}

func TestStreamMessageForceContextLimitErrorShortCircuitsBeforeProvider(t *testing.T) {
	sr := &fakeStreamRuntime{}
	svc, col := newTestService(t, &fakeRuntime{}, sr)

	_, err := svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "m1", ForceContextLimitError: true})
	require.Error(t, err)
	assert.Equal(t, errutil.KindContextExceeded, errutil.KindOf(err))
	assert.True(t, col.has(stream.EventError))
	assert.Equal(t, 0, sr.callCount())
}

func TestStreamMessageSimulateToolPolicyNoopNeverCallsProvider(t *testing.T) {
	sr := &fakeStreamRuntime{}
	svc, col := newTestService(t, &fakeRuntime{}, sr)

	_, err := svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "m1", SimulateToolPolicyNoop: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return col.has(stream.EventStreamEnd) }, time.Second, time.Millisecond)
	assert.Equal(t, 0, sr.callCount())
}

func TestStreamMessagePreStreamAbortNeverReachesStreamManager(t *testing.T) {
	block := make(chan struct{})
	rt := &fakeRuntime{blockUntil: block}
	sr := &fakeStreamRuntime{}
	svc, col := newTestService(t, rt, sr)

	done := make(chan struct{})
	go func() {
		_, _ = svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "m1"})
		close(done)
	}()

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		_, ok := svc.pendingStarts["m1"]
		svc.mu.Unlock()
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, svc.StopStream("m1", stream.StopOptions{AbortReason: "user"}))
	close(block)
	<-done

	require.Eventually(t, func() bool { return col.has(stream.EventStreamAbort) }, time.Second, time.Millisecond)
	assert.Equal(t, 0, sr.callCount())
}

func TestStopStreamMidStreamForwardsToStreamManager(t *testing.T) {
	block := make(chan stream.ProviderEvent)
	svc, col := newTestService(t, &fakeRuntime{}, &fakeStreamRuntime{})

	// Feed a stream runtime that blocks after its first event so there's a
	// window where StreamManager (not pendingStarts) owns the stream.
	svc.streamRuntime = blockingStreamRuntime{first: stream.ProviderEvent{Kind: stream.ProviderTextDelta, TextDelta: "hi"}, hold: block}

	go func() {
		_, _ = svc.StreamMessage(context.Background(), chatdriver.StreamMessageInput{MinionID: "m1"})
	}()

	require.Eventually(t, func() bool { return col.has(stream.EventStreamStart) }, time.Second, time.Millisecond)

	require.NoError(t, svc.StopStream("m1", stream.StopOptions{AbortReason: "user"}))
	close(block)

	require.Eventually(t, func() bool { return col.has(stream.EventStreamAbort) }, time.Second, time.Millisecond)
}

type blockingStreamRuntime struct {
	first stream.ProviderEvent
	hold  chan stream.ProviderEvent
}

func (b blockingStreamRuntime) StartProviderStream(ctx context.Context, in StreamRuntimeInput) (<-chan stream.ProviderEvent, error) {
	ch := make(chan stream.ProviderEvent, 1)
	go func() {
		ch <- b.first
		<-b.hold
		close(ch)
	}()
	return ch, nil
}

func TestWrapDelegatedNeverInvokesOriginalAndRacesAbort(t *testing.T) {
	svc, _ := newTestService(t, &fakeRuntime{}, &fakeStreamRuntime{})
	svc.delegatedToolNames["shell"] = true
	assert.True(t, svc.IsDelegated("shell"))
	assert.False(t, svc.IsDelegated("other"))

	wrapped := svc.WrapDelegated("m1", "call-1", "shell")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := wrapped(ctx, nil)
	require.Error(t, err)
}

func TestMergeForPTCSupplementAppendsBridgeTool(t *testing.T) {
	tools := []mcppool.Tool{{Name: "a"}, {Name: "b"}}
	out := MergeForPTC(PTCSupplement, tools, map[string]bool{"a": true})
	assert.Len(t, out, 3)
	assert.Equal(t, CodeExecutionToolName, out[2].Name)
}

func TestMergeForPTCExclusiveReplacesBridgeableTools(t *testing.T) {
	tools := []mcppool.Tool{{Name: "a"}, {Name: "b"}}
	out := MergeForPTC(PTCExclusive, tools, map[string]bool{"a": true})
	names := make([]string, len(out))
	for i, tl := range out {
		names[i] = tl.Name
	}
	assert.ElementsMatch(t, []string{"b", CodeExecutionToolName}, names)
}

func TestMergeForPTCOffPassesThrough(t *testing.T) {
	tools := []mcppool.Tool{{Name: "a"}}
	out := MergeForPTC(PTCOff, tools, map[string]bool{"a": true})
	assert.Equal(t, tools, out)
}
