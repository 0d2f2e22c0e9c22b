// Package aiservice implements AIService: the facade that composes
// runtime readiness, MCP tool acquisition, delegated-tool wrapping, the
// PTC (Programmatic Tool Calling) experiment, and simulation hooks around
// StreamManager, presenting the result as a chatdriver.ChatDriver so
// AgentSession never depends on this package directly.
package aiservice

import (
	"context"
	"time"

	"github.com/latticehq/minionrt/internal/mcppool"
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/pipeline"
	"github.com/latticehq/minionrt/internal/stream"
)

// StreamRuntimeInput is everything the abstract provider boundary needs to
// actually talk to an LLM. The concrete providers behind StreamRuntime are
// out of scope — this repo ships the interface and tests
// against a fake.
type StreamRuntimeInput struct {
	MinionID                     string
	Messages                     []minion.Message
	Tools                        []mcppool.Tool
	ProviderOptions              map[string]any
	PromptCacheKey               string
	AdditionalSystemInstructions string
}

// StreamRuntime is the abstract "talk to a real provider" boundary AIService
// depends on instead of a concrete SDK.
type StreamRuntime interface {
	StartProviderStream(ctx context.Context, in StreamRuntimeInput) (<-chan stream.ProviderEvent, error)
}

// MessagePreparer is the abstract MessagePipeline boundary AIService
// depends on, decoupling AIService from pipeline's concrete
// Run function for testability.
type MessagePreparer interface {
	Prepare(in pipeline.Input) pipeline.Output
}

// pipelinePreparer is the default MessagePreparer, delegating to the real
// pipeline.Run.
type pipelinePreparer struct{}

func (pipelinePreparer) Prepare(in pipeline.Input) pipeline.Output { return pipeline.Run(in) }

// DefaultPreparer is the production MessagePreparer.
var DefaultPreparer MessagePreparer = pipelinePreparer{}

// ToolExecuteFunc is a tool's real implementation — out of scope to
// provide concretely, but AIService needs the shape to wrap
// it for delegation.
type ToolExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// PTCMode selects how the code_execution tool composes with the rest of
// the policy-filtered tool surface.
type PTCMode string

const (
	PTCOff        PTCMode = "off"
	PTCSupplement PTCMode = "supplement"
	PTCExclusive  PTCMode = "exclusive"
)

// CodeExecutionToolName is the fixed name of the PTC sandbox bridge tool.
const CodeExecutionToolName = "code_execution"

// TaskSpawnToolName is the sentinel tool AgentResolver's
// ShouldDisableTaskTools gates.
const TaskSpawnToolName = "spawn_task"

// LastLLMRequest is the debug snapshot AIService captures per minion —
// must never affect control flow.
type LastLLMRequest struct {
	MinionID   string
	Request    StreamRuntimeInput
	CapturedAt time.Time
}
