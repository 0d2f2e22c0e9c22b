package runtime

import (
	"context"

	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/minion"
)

// Remote is a named-interface-only stand-in for an SSH/remote-host runtime
// adapter (the wire protocol for reaching a remote minion host is out of
// scope). EnsureReady always reports runtime_not_ready so
// callers exercise the same error path a real adapter would produce when
// the remote host is unreachable.
type Remote struct{}

func NewRemote() *Remote { return &Remote{} }

func (r *Remote) EnsureReady(ctx context.Context, m minion.Minion, onStatus StatusFunc) error {
	emit(onStatus, m.ID, StatusChecking, m.RuntimeConfig.Address)
	err := errutil.NewMinionError(errutil.KindRuntimeNotReady, m.ID, "", nil)
	emit(onStatus, m.ID, StatusFailed, err.Error())
	return err
}
