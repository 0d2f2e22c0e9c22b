// Package chatdriver defines the interface boundary that breaks the
// natural cyclic reference between AIService and AgentSession: AgentSession depends only on this abstract ChatDriver,
// never on AIService directly. The concrete provider SDKs and CLI
// subprocess adapters behind a real ChatDriver are out of scope — this package ships the interface plus a scriptable Mock.
package chatdriver

import (
	"context"

	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/pipeline"
	"github.com/latticehq/minionrt/internal/stream"
)

// StreamMessageInput carries everything a ChatDriver needs to start one
// turn — the already-sliced-and-prepared MessagePipeline output, plus the
// per-call overrides AIService composes from AgentSession and experiments.
type StreamMessageInput struct {
	MinionID                     string
	Messages                     []minion.Message
	Provider                     pipeline.Provider
	Model                        string
	ThinkingLevel                pipeline.ThinkingLevel
	AdditionalSystemInstructions string
	PostCompactionAttachment     *pipeline.PostCompactionAttachment
	PromptCacheKey               string

	// ForceContextLimitError and SimulateToolPolicyNoop implement the
	// AIService simulation hooks: when set, the driver must
	// short-circuit real streaming with the corresponding scripted outcome.
	ForceContextLimitError bool
	SimulateToolPolicyNoop bool
}

// ChatDriver is the abstract boundary AgentSession depends on.
type ChatDriver interface {
	// StreamMessage starts a new stream for in.MinionID, returning the
	// allocated stream.Token. Events arrive via whatever Subscribe
	// registered before this call.
	StreamMessage(ctx context.Context, in StreamMessageInput) (stream.Token, error)

	// StopStream forwards to the underlying StreamManager.
	StopStream(minionID string, opts stream.StopOptions) error

	// GetMinionMetadata returns the minion record backing minionID, or
	// ok=false if no such minion is known.
	GetMinionMetadata(minionID string) (minion.Minion, bool)

	// Subscribe registers a listener for every stream event this driver
	// emits, across all minions.
	Subscribe(l stream.Listener)
}
