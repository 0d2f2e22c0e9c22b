// Package minion defines the core data model shared across the streaming
// pipeline: minions, messages, and the compaction-epoch bookkeeping that
// governs how much history is replayed to a provider.
package minion

import "time"

// RuntimeKind names where a minion's work actually executes.
type RuntimeKind string

const (
	RuntimeLocal     RuntimeKind = "local"
	RuntimeContainer RuntimeKind = "container"
	RuntimeRemote    RuntimeKind = "remote"
)

// RuntimeConfig describes how to reach the minion's execution environment.
type RuntimeConfig struct {
	Kind    RuntimeKind       `json:"kind"`
	Image   string            `json:"image,omitempty"`
	Address string            `json:"address,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// Ports are container ports (e.g. a tool-server callback port) to
	// publish to the host when Kind is RuntimeContainer. Ignored otherwise.
	Ports []int `json:"ports,omitempty"`
}

// Minion is a durable, named session bound to a project path and a runtime.
type Minion struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	ProjectPath           string        `json:"projectPath"`
	ProjectName           string        `json:"projectName"`
	RuntimeConfig         RuntimeConfig `json:"runtimeConfig"`
	ParentMinionID        string        `json:"parentMinionId,omitempty"`
	AgentID               string        `json:"agentId,omitempty"`
	AgentSwitchingEnabled bool          `json:"agentSwitchingEnabled,omitempty"`
}

// IsSidekick reports whether this minion was spawned by a parent.
func (m Minion) IsSidekick() bool { return m.ParentMinionID != "" }

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// CompactedBy records how a compaction boundary was produced.
type CompactedBy string

const (
	CompactedByUser CompactedBy = "user"
	CompactedByAuto CompactedBy = "auto"
)

// PartKind tags the variant carried by a Part.
type PartKind string

const (
	PartText        PartKind = "text"
	PartReasoning   PartKind = "reasoning"
	PartDynamicTool PartKind = "dynamic-tool"
	PartFile        PartKind = "file"
)

// Part is one tagged element of a message's ordered content. Exactly one of
// the kind-specific fields is meaningful, selected by Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	Text string `json:"text,omitempty"`

	ReasoningText string `json:"reasoningText,omitempty"`

	ToolName    string         `json:"toolName,omitempty"`
	ToolCallID  string         `json:"toolCallId,omitempty"`
	ToolInput   map[string]any `json:"toolInput,omitempty"`
	ToolResult  any            `json:"toolResult,omitempty"`
	ToolPartial bool           `json:"toolPartial,omitempty"`

	FilePath     string `json:"filePath,omitempty"`
	FileMimeType string `json:"fileMimeType,omitempty"`
	FileData     []byte `json:"fileData,omitempty"`
}

// Usage is per-message token/cost accounting reported by the provider.
type Usage struct {
	InputTokens     int64   `json:"inputTokens"`
	OutputTokens    int64   `json:"outputTokens"`
	CacheReadTokens int64   `json:"cacheReadTokens,omitempty"`
	CostUSD         float64 `json:"costUsd,omitempty"`
}

// Metadata carries the out-of-band bookkeeping fields described in spec §3.
type Metadata struct {
	HistorySequence    int64          `json:"historySequence"`
	Timestamp          time.Time      `json:"timestamp"`
	Model              string         `json:"model,omitempty"`
	AgentID            string         `json:"agentId,omitempty"`
	Partial            bool           `json:"partial,omitempty"`
	Error              string         `json:"error,omitempty"`
	ErrorType          string         `json:"errorType,omitempty"`
	Compacted          CompactedBy    `json:"compacted,omitempty"`
	CompactionBoundary bool           `json:"compactionBoundary,omitempty"`
	CompactionEpoch    int64          `json:"compactionEpoch,omitempty"`
	ProviderMetadata   map[string]any `json:"providerMetadata,omitempty"`
	Usage              *Usage         `json:"usage,omitempty"`
	Synthetic          bool           `json:"synthetic,omitempty"`
	UIVisible          bool           `json:"uiVisible,omitempty"`
}

// IsDurableBoundary implements invariant C: a compaction boundary is only
// durable when it carries a non-zero epoch. A malformed boundary
// (CompactionBoundary=true, CompactionEpoch=0) must never truncate a
// provider payload.
func (m Metadata) IsDurableBoundary() bool {
	return m.CompactionBoundary && m.CompactionEpoch >= 1
}

// Message is one entry in a minion's history log.
type Message struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Parts    []Part   `json:"parts"`
	Metadata Metadata `json:"metadata"`

	// FileAtMentionSnapshot preserves @-mentioned file paths captured on a
	// synthetic snapshot message (used by the sidekick hard-restart path).
	FileAtMentionSnapshot []string `json:"fileAtMentionSnapshot,omitempty"`
}

// HasNonEmptyContent reports whether the message carries any part whose
// content a provider or UI would actually render.
func (m Message) HasNonEmptyContent() bool {
	for _, p := range m.Parts {
		switch p.Kind {
		case PartText:
			if p.Text != "" {
				return true
			}
		case PartReasoning:
			if p.ReasoningText != "" {
				return true
			}
		case PartDynamicTool, PartFile:
			return true
		}
	}
	return false
}

// LatestDurableBoundaryIndex returns the index of the highest-index message
// with a durable compaction boundary, or -1 if none exists.
func LatestDurableBoundaryIndex(messages []Message) int {
	idx := -1
	for i, m := range messages {
		if m.Metadata.IsDurableBoundary() {
			idx = i
		}
	}
	return idx
}
