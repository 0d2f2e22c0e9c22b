package eventstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeState struct {
	Phase string `json:"phase"`
	Lines []string `json:"lines"`
}

type fakeEvent struct {
	Kind string
	Line string
}

func serializeFake(state fakeState) []fakeEvent {
	events := []fakeEvent{{Kind: "start"}}
	for _, line := range state.Lines {
		events = append(events, fakeEvent{Kind: "output", Line: line})
	}
	if state.Phase == "done" {
		events = append(events, fakeEvent{Kind: "end"})
	}
	return events
}

type collectingEmitter struct {
	events []fakeEvent
}

func (c *collectingEmitter) Emit(key string, event fakeEvent) {
	c.events = append(c.events, event)
}

func TestReplayPrefersInMemoryState(t *testing.T) {
	store := New(t.TempDir(), "state.json", serializeFake, nil)
	store.Set("m-1", fakeState{Phase: "done", Lines: []string{"a", "b"}})

	emitter := &collectingEmitter{}
	found, err := store.Replay("m-1", emitter)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, emitter.events, 4) // start + 2 outputs + end
	require.Equal(t, "start", emitter.events[0].Kind)
	require.Equal(t, "end", emitter.events[3].Kind)
}

func TestReplayFallsBackToDisk(t *testing.T) {
	store := New(t.TempDir(), "state.json", serializeFake, nil)
	require.NoError(t, store.Persist("m-1", fakeState{Phase: "done", Lines: []string{"x"}}))

	fresh := New(store.dataRoot, "state.json", serializeFake, nil)
	emitter := &collectingEmitter{}
	found, err := fresh.Replay("m-1", emitter)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, emitter.events, 3)
}

func TestReplayMissingKeyReturnsFalse(t *testing.T) {
	store := New(t.TempDir(), "state.json", serializeFake, nil)
	emitter := &collectingEmitter{}
	found, err := store.Replay("ghost", emitter)
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, emitter.events)
}

func TestPersistSkipsWhenShouldWriteFalse(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, "state.json", serializeFake, nil)
	store.SetShouldWrite(func(key string) bool { return false })

	require.NoError(t, store.Persist("m-1", fakeState{Phase: "running"}))
	_, err := os.Stat(filepath.Join(dir, "m-1", "state.json"))
	require.True(t, os.IsNotExist(err), "persist should have been skipped")
}

func TestPersistDefaultGuardChecksDataRoot(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, "state.json", serializeFake, nil)

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, store.Persist("m-1", fakeState{Phase: "running"}))

	_, err := os.Stat(filepath.Join(dir, "m-1", "state.json"))
	require.True(t, os.IsNotExist(err), "persist must not recreate a deleted data root")
}

func TestDeleteClearsMemoryNotDisk(t *testing.T) {
	store := New(t.TempDir(), "state.json", serializeFake, nil)
	state := fakeState{Phase: "done"}
	store.Set("m-1", state)
	require.NoError(t, store.Persist("m-1", state))

	store.Delete("m-1")
	_, ok := store.Get("m-1")
	require.False(t, ok)

	emitter := &collectingEmitter{}
	found, err := store.Replay("m-1", emitter)
	require.NoError(t, err)
	require.True(t, found, "disk copy must survive an in-memory Delete")
}
