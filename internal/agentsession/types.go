// Package agentsession implements AgentSession: the per-minion state
// machine sitting above a chatdriver.ChatDriver that owns sendMessage,
// edit-and-resend, resumeStream, context-exceeded recovery (including the
// exec-sidekick hard restart), and post-compaction refresh.
package agentsession

import (
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/pipeline"
)

// errHistoryEmptyMsg is ResumeStream's error text when the minion has no
// history to resume from.
const errHistoryEmptyMsg = "history is empty"

// MessageQueuedFunc is BackgroundProcessManager's setMessageQueued
// telemetry hook — out of scope to implement for real, but sendMessage must still
// call it so a real BackgroundProcessManager can observe queuing.
type MessageQueuedFunc func(minionID string, queued bool)

// PostCompactionFunc is the injected onPostCompactionStateChange callback,
// invoked when a tool-call-end event's tool name matches the
// file-edit pattern.
type PostCompactionFunc func(minionID string)

// SendOptions parameterizes one sendMessage call.
type SendOptions struct {
	// EditMessageID, if set, rewrites history in place instead of a plain
	// append: everything from the target message onward is discarded and
	// replaced with the edited copy.
	EditMessageID string

	// FileParts distinguishes "omitted" (nil — preserve the edited
	// message's existing file parts) from "explicitly cleared" (non-nil,
	// possibly empty) per the editMessageId rule.
	FileParts *[]minion.Part

	AdditionalSystemInstructions string
}

// Options configures a Session at construction.
type Options struct {
	Provider             pipeline.Provider
	ThinkingLevel        pipeline.ThinkingLevel
	PromptCacheKeyPrefix string

	Experiments Experiments

	OnMessageQueued             MessageQueuedFunc
	OnPostCompactionStateChange PostCompactionFunc
}

// Experiments gates opt-in recovery behaviors.
type Experiments struct {
	// ExecSidekickHardRestart enables the clearHistory-and-replay recovery
	// path for sidekick minions whose agent chain is exec-like, on the
	// first context_exceeded error of a turn that carried no post-compaction
	// attachment (a turn that carried one is retried once without it
	// instead).
	ExecSidekickHardRestart bool
}
