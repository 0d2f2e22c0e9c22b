package aiservice

import (
	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/mcppool"
)

// applyToolPolicy narrows the MCP tool surface to what AgentResolver's
// Result allows for this turn: the composed last-match-wins ToolPolicy,
// plus task-spawning tools disabled once nesting depth is reached.
func applyToolPolicy(tools []mcppool.Tool, resolved *agentresolver.Result) []mcppool.Tool {
	out := make([]mcppool.Tool, 0, len(tools))
	for _, t := range tools {
		if resolved.ShouldDisableTaskTools && t.Name == TaskSpawnToolName {
			continue
		}
		if !resolved.Policy.Allows(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}
