package agentsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/chatdriver"
	"github.com/latticehq/minionrt/internal/diffbundle"
	"github.com/latticehq/minionrt/internal/history"
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/stream"
)

func newTestSession(t *testing.T, opts Options) (*Session, *chatdriver.Mock, *history.Store) {
	t.Helper()
	dataRoot := t.TempDir()
	store := history.New(dataRoot, nil)
	mock := chatdriver.NewMock(store, nil)
	mock.RegisterMinion(minion.Minion{ID: "m1", Name: "test"})
	resolver := agentresolver.New(agentresolver.MapLoader{"exec": {ID: "exec"}}, nil, nil)
	s := New("m1", mock, store, resolver, dataRoot, nil, opts)
	return s, mock, store
}

func TestSendMessageAppendsAndStreamsReply(t *testing.T) {
	s, mock, store := newTestSession(t, Options{})
	mock.EnqueueTextResponse("m1", "hello back")

	err := s.SendMessage(context.Background(), "hi", SendOptions{})
	require.NoError(t, err)

	messages, err := store.GetHistoryFromLatestBoundary("m1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, minion.RoleUser, messages[0].Role)
	assert.Equal(t, "hi", messages[0].Parts[0].Text)
	assert.Equal(t, minion.RoleAssistant, messages[1].Role)
	assert.Len(t, mock.Calls(), 1)
}

func TestSendMessageWithEditTargetTruncatesAndReplaces(t *testing.T) {
	s, mock, store := newTestSession(t, Options{})
	mock.EnqueueTextResponse("m1", "first reply")
	require.NoError(t, s.SendMessage(context.Background(), "first", SendOptions{}))

	before, err := store.GetHistoryFromLatestBoundary("m1")
	require.NoError(t, err)
	require.Len(t, before, 2)
	targetID := before[0].ID

	mock.EnqueueTextResponse("m1", "second reply")
	require.NoError(t, s.SendMessage(context.Background(), "edited", SendOptions{EditMessageID: targetID}))

	after, err := store.GetHistoryFromLatestBoundary("m1")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "edited", after[0].Parts[0].Text)
	assert.NotEqual(t, targetID, after[0].ID)
	assert.Equal(t, minion.RoleAssistant, after[1].Role)
}

func TestSendMessageWithMissingEditTargetFallsBackToAppend(t *testing.T) {
	s, mock, store := newTestSession(t, Options{})
	mock.EnqueueTextResponse("m1", "reply")

	err := s.SendMessage(context.Background(), "hi", SendOptions{EditMessageID: "does-not-exist"})
	require.NoError(t, err)

	messages, err := store.GetHistoryFromLatestBoundary("m1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hi", messages[0].Parts[0].Text)
}

func TestResumeStreamFailsWhenHistoryIsEmpty(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	err := s.ResumeStream(context.Background())
	require.Error(t, err)
	assert.Equal(t, errHistoryEmptyMsg, err.Error())
}

func TestContextExceededWithAttachmentRetriesOnceWithoutIt(t *testing.T) {
	s, mock, store := newTestSession(t, Options{})

	// Seed enough history that the minion's directory exists on disk before
	// diffbundle.Persist is asked to write into it.
	_, err := store.Append("m1", minion.Message{ID: "seed", Role: minion.RoleUser,
		Parts: []minion.Part{{Kind: minion.PartText, Text: "seed"}}})
	require.NoError(t, err)

	bundle := diffbundle.Bundle{Version: 1, Diffs: []diffbundle.Entry{{Path: "a.go", Diff: "+x"}}}
	require.NoError(t, diffbundle.Persist(s.minionDir(), bundle))

	mock.EnqueueContextExceeded("m1")
	mock.EnqueueTextResponse("m1", "recovered")

	err = s.SendMessage(context.Background(), "go", SendOptions{})
	require.NoError(t, err)

	assert.Len(t, mock.Calls(), 2)
	assert.Nil(t, mock.Calls()[1].PostCompactionAttachment)

	remaining, err := diffbundle.Load(s.minionDir())
	require.NoError(t, err)
	assert.Nil(t, remaining)
}

func TestContextExceededWithoutAttachmentAndNoExecLikeReturnsError(t *testing.T) {
	s, mock, _ := newTestSession(t, Options{})
	mock.EnqueueContextExceeded("m1")

	err := s.SendMessage(context.Background(), "go", SendOptions{})
	require.Error(t, err)
}

func TestExecSidekickHardRestartReplaysPreservedMessagesAndRetries(t *testing.T) {
	s, mock, store := newTestSession(t, Options{
		Experiments: Experiments{ExecSidekickHardRestart: true},
	})
	mock.RegisterMinion(minion.Minion{ID: "m1", Name: "test", ParentMinionID: "root", AgentID: "exec"})

	_, err := store.Append("m1", minion.Message{ID: "snapshot-1", Role: minion.RoleUser,
		Metadata: minion.Metadata{Synthetic: true},
		Parts:    []minion.Part{{Kind: minion.PartText, Text: "@foo"}}})
	require.NoError(t, err)

	mock.EnqueueContextExceeded("m1")
	mock.EnqueueTextResponse("m1", "restarted reply")

	err = s.SendMessage(context.Background(), "Do the thing", SendOptions{})
	require.NoError(t, err)

	messages, err := store.GetHistoryFromLatestBoundary("m1")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, minion.RoleSystem, messages[0].Role)
	assert.True(t, messages[0].Metadata.Synthetic)
	assert.Equal(t, "snapshot-1", messages[1].ID)
	assert.Equal(t, "@foo", messages[1].Parts[0].Text)
	assert.Equal(t, minion.RoleUser, messages[2].Role)
	assert.Equal(t, "Do the thing", messages[2].Parts[0].Text)
	assert.Equal(t, minion.RoleAssistant, messages[3].Role)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.NotEmpty(t, calls[1].AdditionalSystemInstructions)
}

func TestSecondContextExceededInSameTurnSurfacesAsPlainError(t *testing.T) {
	s, mock, _ := newTestSession(t, Options{
		Experiments: Experiments{ExecSidekickHardRestart: true},
	})
	mock.RegisterMinion(minion.Minion{ID: "m1", Name: "test", ParentMinionID: "root", AgentID: "exec"})

	mock.EnqueueContextExceeded("m1")
	mock.EnqueueContextExceeded("m1")

	err := s.SendMessage(context.Background(), "go", SendOptions{})
	require.Error(t, err)
	assert.Len(t, mock.Calls(), 2)
}

type recordingListener struct {
	mu    sync.Mutex
	count int
}

func (r *recordingListener) OnEvent(event stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *recordingListener) seen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestDisposeStopsForwardingToExternalListeners(t *testing.T) {
	s, mock, _ := newTestSession(t, Options{})

	l := &recordingListener{}
	s.Subscribe(l)

	mock.EnqueueTextResponse("m1", "hello")
	require.NoError(t, s.SendMessage(context.Background(), "hi", SendOptions{}))
	require.Greater(t, l.seen(), 0)

	s.Dispose()
	before := l.seen()

	mock.EnqueueTextResponse("m1", "hello again")
	require.NoError(t, s.SendMessage(context.Background(), "hi again", SendOptions{}))
	assert.Equal(t, before, l.seen())
}

func TestPostCompactionCallbackFiresOnFileEditToolCallEnd(t *testing.T) {
	fired := make(chan string, 1)
	s, mock, _ := newTestSession(t, Options{
		OnPostCompactionStateChange: func(minionID string) {
			fired <- minionID
		},
	})

	mock.EnqueueEvents("m1", []stream.ProviderEvent{
		{Kind: stream.ProviderToolCallStart, ToolCallID: "call-1", ToolName: "file_edit_replace"},
		{Kind: stream.ProviderToolCallEnd, ToolCallID: "call-1"},
		{Kind: stream.ProviderCompleted},
	})

	require.NoError(t, s.SendMessage(context.Background(), "edit a file", SendOptions{}))

	select {
	case id := <-fired:
		assert.Equal(t, "m1", id)
	case <-time.After(time.Second):
		t.Fatal("post-compaction callback never fired")
	}
}
