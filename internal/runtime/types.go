// Package runtime implements Runtime.EnsureReady for the runtime kinds a
// minion can be bound to: a no-op local adapter, a docker-backed container
// adapter, and a named-interface-only remote adapter.
package runtime

import (
	"context"

	"github.com/latticehq/minionrt/internal/minion"
)

// StatusKind tags a runtime-status event.
type StatusKind string

const (
	StatusChecking StatusKind = "checking"
	StatusStarting StatusKind = "starting"
	StatusReady    StatusKind = "ready"
	StatusFailed   StatusKind = "failed"
)

// StatusEvent mirrors the `runtime-status` event kind.
type StatusEvent struct {
	MinionID string
	Kind     StatusKind
	Detail   string
}

// StatusFunc receives runtime-status events as EnsureReady progresses.
type StatusFunc func(StatusEvent)

// Runtime ensures a minion's execution environment is reachable before a
// stream begins, starting it if the runtime supports that and it is
// currently stopped.
type Runtime interface {
	EnsureReady(ctx context.Context, m minion.Minion, onStatus StatusFunc) error
}

// Registry dispatches EnsureReady to the adapter matching m.RuntimeConfig.Kind.
type Registry struct {
	Local     Runtime
	Container Runtime
	Remote    Runtime
}

// NewRegistry wires the three adapters into a single Runtime.
func NewRegistry(local, container, remote Runtime) *Registry {
	return &Registry{Local: local, Container: container, Remote: remote}
}

func (r *Registry) EnsureReady(ctx context.Context, m minion.Minion, onStatus StatusFunc) error {
	switch m.RuntimeConfig.Kind {
	case minion.RuntimeContainer:
		return r.Container.EnsureReady(ctx, m, onStatus)
	case minion.RuntimeRemote:
		return r.Remote.EnsureReady(ctx, m, onStatus)
	default:
		return r.Local.EnsureReady(ctx, m, onStatus)
	}
}

func emit(onStatus StatusFunc, minionID string, kind StatusKind, detail string) {
	if onStatus == nil {
		return
	}
	onStatus(StatusEvent{MinionID: minionID, Kind: kind, Detail: detail})
}
