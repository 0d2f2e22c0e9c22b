// Package pipeline implements MessagePipeline: the pure functional
// transform from durable history into the exact payload a provider call
// (and everything derived from it — previousResponseId lookup, plan
// instructions, provider options) must agree on.
package pipeline

import (
	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/minion"
)

// Provider names the upstream model API whose quirks this pipeline
// accounts for.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOther     Provider = "other"
)

// ThinkingLevel mirrors the caller's requested extended-thinking setting.
type ThinkingLevel string

const ThinkingOff ThinkingLevel = "off"

// ContinueSentinel is injected into a resumed partial message so the model
// sees an explicit instruction to continue rather than starting fresh.
const ContinueSentinel = "[CONTINUE]"

// FileChangeAttachment is a live, in-turn file diff surfaced to the model
// (distinct from PostCompactionAttachment, which survives exactly one
// post-compaction turn).
type FileChangeAttachment struct {
	Path string
	Diff string
}

// PostCompactionAttachment is attached to the first post-compaction request
// and discarded on success or on the first context-exceeded error.
type PostCompactionAttachment struct {
	Path      string `json:"path"`
	Diff      string `json:"diff"`
	Truncated bool   `json:"truncated"`
}

// Input is everything Run needs to produce the exact payload shared by the
// stream call, the previousResponseId lookup, and buildPlanInstructions.
type Input struct {
	MinionID string
	Messages []minion.Message

	Provider      Provider
	ThinkingLevel ThinkingLevel

	PreviousMode agentresolver.Mode
	CurrentMode  agentresolver.Mode

	FileChangeAttachments    []FileChangeAttachment
	PostCompactionAttachment *PostCompactionAttachment

	PromptCacheKeyPrefix string
}

// Output is the sliced, injected payload plus the bookkeeping every
// downstream consumer (provider call, previousResponseId lookup, plan
// instructions, provider-options builder) must share.
type Output struct {
	Messages          []minion.Message
	SlicedFromIndex   int
	SentinelToolNames map[string]bool
	ProviderOptions   map[string]any
	PromptCacheKey    string
}
