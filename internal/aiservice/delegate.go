package aiservice

import "context"

// WrapDelegated implements delegated-tool wrapping: for a
// tool named in delegatedToolNames, the real execute is replaced entirely
// by a wrapper that registers the call with DelegatedToolCallRegistry and
// races it against ctx (the tool's own abort signal) — whichever resolves
// first wins. The original execute is never invoked: once a tool is
// delegated, its result comes from whatever external actor answers the
// registry, not from local execution.
func (s *Service) WrapDelegated(minionID, toolCallID, toolName string) ToolExecuteFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		pending, err := s.delegated.RegisterPending(minionID, toolCallID, toolName)
		if err != nil {
			return nil, err
		}
		return pending.WaitWithAbort(ctx, s.delegated)
	}
}

// IsDelegated reports whether toolName is configured for delegation on
// this Service instance.
func (s *Service) IsDelegated(toolName string) bool {
	return s.delegatedToolNames[toolName]
}
