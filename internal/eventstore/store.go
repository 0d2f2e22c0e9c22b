// Package eventstore implements the generic EventStore: an in-memory state
// cache per key, with a serializer that turns state into a replayable event
// sequence and an on-disk fallback for keys evicted from memory.
package eventstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/latticehq/minionrt/internal/logging"
)

// Emitter receives replayed events for a key, in order.
type Emitter[E any] interface {
	Emit(key string, event E)
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc[E any] func(key string, event E)

// Emit implements Emitter.
func (f EmitterFunc[E]) Emit(key string, event E) { f(key, event) }

// Serializer derives the replay event sequence for a given state snapshot.
type Serializer[S any, E any] func(state S) []E

// Store holds an in-memory state per key plus its on-disk backing file,
// generic over the state type S and the event type E it replays as.
type Store[S any, E any] struct {
	dataRoot  string
	fileName  string
	serialize Serializer[S, E]
	logger    logging.Logger

	// shouldWrite gates Persist; it defaults to checking that dataRoot still
	// exists, so a queued write never recreates a directory whose parent was
	// removed out from under it (e.g. by minion deletion).
	shouldWrite func(key string) bool

	mu     sync.RWMutex
	memory map[string]S
}

// New constructs a Store. fileName is the JSON file written under
// dataRoot/key/ (e.g. "init-status.json", "session-usage.json").
func New[S any, E any](dataRoot, fileName string, serialize Serializer[S, E], logger logging.Logger) *Store[S, E] {
	s := &Store[S, E]{
		dataRoot:  dataRoot,
		fileName:  fileName,
		serialize: serialize,
		logger:    logging.OrNop(logger),
		memory:    make(map[string]S),
	}
	s.shouldWrite = func(key string) bool {
		_, err := os.Stat(s.dataRoot)
		return err == nil
	}
	return s
}

// SetShouldWrite overrides the write guard used by Persist.
func (s *Store[S, E]) SetShouldWrite(fn func(key string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldWrite = fn
}

func (s *Store[S, E]) path(key string) string {
	return filepath.Join(s.dataRoot, key, s.fileName)
}

// Set installs state as the in-memory value for key, without persisting.
func (s *Store[S, E]) Set(key string, state S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[key] = state
}

// Get returns the in-memory state for key, if present.
func (s *Store[S, E]) Get(key string) (S, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.memory[key]
	return state, ok
}

// Delete clears key from memory without touching disk.
func (s *Store[S, E]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, key)
}

// Persist writes state to disk for key, honoring the shouldWrite predicate.
// A false predicate is not an error — it's a deliberate skip.
func (s *Store[S, E]) Persist(key string, state S) error {
	s.mu.RLock()
	guard := s.shouldWrite
	s.mu.RUnlock()
	if guard != nil && !guard(key) {
		s.logger.Warn("eventstore: skipping persist for key=%s, shouldWrite() false", key)
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// readDisk loads the persisted state for key, returning (zero, false, nil)
// if no file exists.
func (s *Store[S, E]) readDisk(key string) (S, bool, error) {
	var state S
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return state, false, nil
		}
		return state, false, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, false, err
	}
	return state, true, nil
}

// Replay emits the event sequence for key's current state: the in-memory
// copy if present, else the persisted one. Returns false if neither exists.
func (s *Store[S, E]) Replay(key string, emitter Emitter[E]) (bool, error) {
	s.mu.RLock()
	state, ok := s.memory[key]
	s.mu.RUnlock()

	if !ok {
		diskState, found, err := s.readDisk(key)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		state = diskState
	}

	for _, event := range s.serialize(state) {
		emitter.Emit(key, event)
	}
	return true, nil
}
