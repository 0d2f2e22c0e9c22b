package aiservice

import "github.com/latticehq/minionrt/internal/stream"

// simulateToolPolicyNoopEvents implements the StreamSimulator's
// policy-noop script"): a single tool call that
// reports a denial result without ever reaching a real tool
// implementation, followed by a short acknowledgement and completion.
// This is what SimulateToolPolicyNoop substitutes for a real provider
// turn.
func simulateToolPolicyNoopEvents() []stream.ProviderEvent {
	const toolCallID = "sim-policy-noop"
	return []stream.ProviderEvent{
		{Kind: stream.ProviderToolCallStart, ToolCallID: toolCallID, ToolName: "noop"},
		{Kind: stream.ProviderToolCallEnd, ToolCallID: toolCallID, ToolName: "noop",
			ToolResult: map[string]any{"denied": true, "reason": "simulated tool policy noop"}},
		{Kind: stream.ProviderTextDelta, TextDelta: "(tool policy simulated as a no-op)"},
		{Kind: stream.ProviderCompleted},
	}
}

// feedSimulatedEvents returns a closed, pre-filled channel carrying
// events, matching the shape StreamManager expects from a real provider
// stream so simulated and real turns share the same StartStream path.
func feedSimulatedEvents(events []stream.ProviderEvent) <-chan stream.ProviderEvent {
	ch := make(chan stream.ProviderEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}
