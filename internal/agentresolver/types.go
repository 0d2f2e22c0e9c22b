// Package agentresolver implements AgentResolver: normalizing a requested
// agent id, loading its definition, composing the effective tool policy,
// detecting plan-likeness, and computing task-nesting depth.
package agentresolver

import (
	"context"
	"regexp"
)

// Mode is the effective execution mode for a turn.
type Mode string

const (
	ModePlan    Mode = "plan"
	ModeExec    Mode = "exec"
	ModeCompact Mode = "compact"
)

// PolicyAction is what a ToolPolicy rule does to a matching tool name.
type PolicyAction string

const (
	ActionEnable  PolicyAction = "enable"
	ActionDisable PolicyAction = "disable"
	ActionRequire PolicyAction = "require"
)

// PolicyRule is one entry of a ToolPolicy: a regex matched against tool
// names, with an action applied when it matches.
type PolicyRule struct {
	Pattern string       `yaml:"pattern" json:"pattern"`
	Action  PolicyAction `yaml:"action" json:"action"`

	compiled *regexp.Regexp
}

// ToolPolicy is an ordered rule list, evaluated last-match-wins.
type ToolPolicy []PolicyRule

// Definition is one agent's resolved configuration: its identity, whether
// it's disabled, its inheritance chain (for plan-likeness and capability
// resolution), its own tool policy, and the capabilities (tool names) it
// itself exposes.
type Definition struct {
	ID           string     `yaml:"id" json:"id"`
	DisplayName  string     `yaml:"displayName" json:"displayName"`
	Disabled     bool       `yaml:"disabled" json:"disabled"`
	InheritsFrom string     `yaml:"inheritsFrom" json:"inheritsFrom"`
	Capabilities []string   `yaml:"capabilities" json:"capabilities"`
	ToolPolicy   ToolPolicy `yaml:"toolPolicy" json:"toolPolicy"`
}

// ResolveInput is what the caller has in hand before resolution.
type ResolveInput struct {
	RequestedAgentID string

	MinionID           string
	ParentMinionID     string
	IsSidekick         bool
	IsSystemChat       bool
	PersistedAgentID   string
	PersistedAgentType string

	CallerPolicy       ToolPolicy
	SystemMinionPolicy ToolPolicy
}

// Result is AgentResolver's output, consumed by MessagePipeline and
// AIService.
type Result struct {
	AgentID                 string
	Definition              *Definition
	Mode                    Mode
	Policy                  ToolPolicy
	SentinelToolNames       map[string]bool
	TaskDepth               int
	ShouldDisableTaskTools  bool
	Disabled                bool
	DisabledFallbackApplied bool
}

// DefinitionLoader loads an agent's resolved definition (after frontmatter
// and config merge) by id.
type DefinitionLoader interface {
	Load(ctx context.Context, agentID string) (*Definition, error)
}

// ParentLookup resolves a minion's parentMinionId for depth/cycle-guard
// walking, without agentresolver depending on a concrete minion store.
type ParentLookup interface {
	ParentOf(ctx context.Context, minionID string) (parentMinionID string, ok bool, err error)
}

// CycleGuardHops bounds the parentMinionId walk itself — exceeding it means
// the chain is cyclic (or corrupted), not merely deep, and is an error.
const CycleGuardHops = 32

// MaxTaskNestingDepth is the business depth past which nested task-spawning
// tools are disabled for a minion, well short of the defensive
// CycleGuardHops bound.
const MaxTaskNestingDepth = 8

// FallbackAgentID is used whenever resolution can't proceed with the
// requested id.
const FallbackAgentID = "exec"

// AutoAgentID forces switch_agent on.
const AutoAgentID = "auto"

// CompactAgentID selects compact mode directly.
const CompactAgentID = "compact"

// SwitchAgentTool is the sentinel tool name the auto agent forces.
const SwitchAgentTool = "switch_agent"

// ProposePlanCapability marks an agent (or ancestor) as plan-like.
const ProposePlanCapability = "propose_plan"
