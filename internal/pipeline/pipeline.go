package pipeline

import (
	"fmt"

	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/minion"
)

// Run executes the seven MessagePipeline stages in spec order. It is a
// pure function of its input: no I/O, no clock reads beyond what's already
// embedded in the messages.
func Run(in Input) Output {
	messages := dropEmptyAssistantMessages(in.Messages, in.Provider, in.ThinkingLevel)

	sliceFrom := latestDurableBoundaryStart(messages)
	messages = messages[sliceFrom:]

	if in.Provider == ProviderOpenAI {
		messages = keepReasoningParts(messages)
	}

	messages = injectContinueSentinel(messages)
	messages = injectPlanTransition(messages, in.PreviousMode, in.CurrentMode)
	messages = injectAttachments(messages, in.FileChangeAttachments, in.PostCompactionAttachment)

	return Output{
		Messages:          messages,
		SlicedFromIndex:   sliceFrom,
		SentinelToolNames: sentinelToolNames(),
		ProviderOptions:   providerOptions(in),
		PromptCacheKey:    promptCacheKey(in),
	}
}

// dropEmptyAssistantMessages removes assistant messages with no renderable
// content, except reasoning-only messages under Anthropic with thinking
// enabled — those are preserved exactly (step 1).
func dropEmptyAssistantMessages(messages []minion.Message, provider Provider, thinking ThinkingLevel) []minion.Message {
	out := make([]minion.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != minion.RoleAssistant {
			out = append(out, m)
			continue
		}
		if isReasoningOnly(m) {
			if provider == ProviderAnthropic && thinking != ThinkingOff {
				out = append(out, m)
			}
			continue
		}
		if m.HasNonEmptyContent() {
			out = append(out, m)
		}
	}
	return out
}

func isReasoningOnly(m minion.Message) bool {
	sawReasoning := false
	for _, p := range m.Parts {
		switch p.Kind {
		case minion.PartReasoning:
			if p.ReasoningText != "" {
				sawReasoning = true
			}
		default:
			return false
		}
	}
	return sawReasoning
}

// latestDurableBoundaryStart returns the slice start index (step 2): the
// latest durable boundary's index, or 0 if none exists. A malformed
// boundary (CompactionBoundary=true, epoch=0) must never truncate — that
// invariant is already enforced by minion.LatestDurableBoundaryIndex, which
// only recognizes epoch>=1 boundaries as durable.
func latestDurableBoundaryStart(messages []minion.Message) int {
	idx := minion.LatestDurableBoundaryIndex(messages)
	if idx < 0 {
		return 0
	}
	return idx
}

// keepReasoningParts is a no-op pass-through for OpenAI: reasoning parts
// already survive dropEmptyAssistantMessages when attached to
// non-empty-content messages, and OpenAI reconstructs prior reasoning via
// previousResponseId rather than resending it — so this stage exists to
// make step 3 an explicit, independently testable point in the pipeline
// rather than folding it into step 1.
func keepReasoningParts(messages []minion.Message) []minion.Message {
	return messages
}

// injectContinueSentinel appends ContinueSentinel as a trailing text part
// on an in-progress resume so the model sees an explicit instruction to
// continue, rather than treating a dangling partial assistant message as a
// finished turn (step 4).
func injectContinueSentinel(messages []minion.Message) []minion.Message {
	if len(messages) == 0 {
		return messages
	}
	last := messages[len(messages)-1]
	if last.Role != minion.RoleAssistant || !last.Metadata.Partial {
		return messages
	}
	out := append([]minion.Message(nil), messages...)
	patched := last
	patched.Parts = append(append([]minion.Part(nil), last.Parts...), minion.Part{
		Kind: minion.PartText,
		Text: ContinueSentinel,
	})
	out[len(out)-1] = patched
	return out
}

// injectPlanTransition appends a synthetic user message carrying the
// plan-to-exec transition instruction whenever mode actually changed from
// plan to exec (step 5). Other transitions need no injected content.
func injectPlanTransition(messages []minion.Message, previous, current agentresolver.Mode) []minion.Message {
	if previous != agentresolver.ModePlan || current != agentresolver.ModeExec {
		return messages
	}
	transition := minion.Message{
		Role: minion.RoleUser,
		Parts: []minion.Part{{
			Kind: minion.PartText,
			Text: "The plan has been approved. Begin execution.",
		}},
		Metadata: minion.Metadata{Synthetic: true},
	}
	return append(append([]minion.Message(nil), messages...), transition)
}

// injectAttachments appends file-change and post-compaction attachments as
// synthetic text parts on a trailing synthetic user message (step 6). Both
// kinds of attachment are purely additive context, never replacing any
// existing message.
func injectAttachments(messages []minion.Message, changes []FileChangeAttachment, postCompaction *PostCompactionAttachment) []minion.Message {
	if len(changes) == 0 && postCompaction == nil {
		return messages
	}
	var parts []minion.Part
	for _, c := range changes {
		parts = append(parts, minion.Part{
			Kind: minion.PartText,
			Text: fmt.Sprintf("File changed: %s\n%s", c.Path, c.Diff),
		})
	}
	if postCompaction != nil {
		text := fmt.Sprintf("Post-compaction attachment: %s\n%s", postCompaction.Path, postCompaction.Diff)
		if postCompaction.Truncated {
			text += "\n(truncated)"
		}
		parts = append(parts, minion.Part{Kind: minion.PartText, Text: text})
	}
	attachment := minion.Message{
		Role:     minion.RoleUser,
		Parts:    parts,
		Metadata: minion.Metadata{Synthetic: true},
	}
	return append(append([]minion.Message(nil), messages...), attachment)
}

// sentinelToolNames is the fixed set of tool names agent-transition
// detection watches for, computed once per run (step 7).
func sentinelToolNames() map[string]bool {
	return map[string]bool{
		agentresolver.SwitchAgentTool:        true,
		agentresolver.ProposePlanCapability: true,
	}
}

// providerOptions renders provider-shape hints (e.g. cache TTL) derived
// from the same sliced payload, never recomputed independently.
func providerOptions(in Input) map[string]any {
	opts := map[string]any{}
	if in.Provider == ProviderAnthropic {
		opts["cacheControl"] = map[string]any{"type": "ephemeral", "ttl": "5m"}
	}
	return opts
}

// promptCacheKey is stable per minion so repeated turns hit the same
// provider-side prompt cache.
func promptCacheKey(in Input) string {
	if in.PromptCacheKeyPrefix == "" {
		return fmt.Sprintf("lattice-v1-%s", in.MinionID)
	}
	return fmt.Sprintf("%s-%s", in.PromptCacheKeyPrefix, in.MinionID)
}
