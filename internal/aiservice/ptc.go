package aiservice

import "github.com/latticehq/minionrt/internal/mcppool"

// codeExecutionTool is the lazily-constructed PTC bridge tool description
//. The sandbox itself is a tool
// implementation and out of scope — this is the tool's
// provider-facing descriptor only.
func codeExecutionTool() mcppool.Tool {
	return mcppool.Tool{
		Name:        CodeExecutionToolName,
		Description: "Execute code in a sandbox with access to the currently policy-enabled tools via a bridge.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{"type": "string"},
			},
			"required": []string{"code"},
		},
	}
}

// MergeForPTC composes the final tool surface according to PTCMode.
// supplement adds the code_execution bridge tool alongside every normal
// tool; exclusive replaces every tool named in bridgeable with the single
// bridge tool (the rest pass through untouched).
func MergeForPTC(mode PTCMode, tools []mcppool.Tool, bridgeable map[string]bool) []mcppool.Tool {
	switch mode {
	case PTCSupplement:
		return append(append([]mcppool.Tool(nil), tools...), codeExecutionTool())

	case PTCExclusive:
		out := make([]mcppool.Tool, 0, len(tools)+1)
		bridgedAny := false
		for _, t := range tools {
			if bridgeable[t.Name] {
				bridgedAny = true
				continue
			}
			out = append(out, t)
		}
		if bridgedAny {
			out = append(out, codeExecutionTool())
		}
		return out

	default:
		return tools
	}
}
