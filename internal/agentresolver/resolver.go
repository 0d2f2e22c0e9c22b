package agentresolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/logging"
)

var validAgentID = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Resolver is AgentResolver.
type Resolver struct {
	loader  DefinitionLoader
	parents ParentLookup
	logger  logging.Logger
}

// New constructs a Resolver. loader supplies agent definitions (wrap it in
// a CachingLoader to avoid redundant disk reads); parents supplies the
// parentMinionId walk for task-depth and cycle detection.
func New(loader DefinitionLoader, parents ParentLookup, logger logging.Logger) *Resolver {
	return &Resolver{loader: loader, parents: parents, logger: logging.OrNop(logger)}
}

// normalizeAgentID trims, lowercases, and schema-validates id; an invalid
// id falls back to the exec agent.
func normalizeAgentID(id string) string {
	trimmed := strings.ToLower(strings.TrimSpace(id))
	if trimmed == "" || !validAgentID.MatchString(trimmed) {
		return FallbackAgentID
	}
	return trimmed
}

// Resolve implements the full AgentResolver contract.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*Result, error) {
	requested := in.RequestedAgentID
	if in.IsSystemChat {
		requested = "system-chat"
	} else if in.IsSidekick {
		if in.PersistedAgentID != "" {
			requested = in.PersistedAgentID
		} else {
			requested = in.PersistedAgentType
		}
	}
	agentID := normalizeAgentID(requested)

	def, err := r.loader.Load(ctx, agentID)
	if err != nil {
		if in.IsSidekick {
			return nil, errutil.NewMinionError(errutil.KindRuntimeNotReady, in.MinionID, "",
				fmt.Errorf("agent %q could not be loaded: %w", agentID, err))
		}
		agentID = FallbackAgentID
		def, err = r.loader.Load(ctx, agentID)
		if err != nil {
			return nil, errutil.NewMinionError(errutil.KindRuntimeNotReady, in.MinionID, "", err)
		}
	}

	disabledFallback := false
	if def.Disabled {
		if in.IsSidekick {
			return nil, errutil.NewMinionError(errutil.KindPolicyDenied, in.MinionID, "",
				fmt.Errorf("Agent '%s' is disabled", agentID))
		}
		agentID = FallbackAgentID
		def, err = r.loader.Load(ctx, agentID)
		if err != nil {
			return nil, errutil.NewMinionError(errutil.KindRuntimeNotReady, in.MinionID, "", err)
		}
		disabledFallback = true
	}

	chain, err := r.resolveChain(ctx, def)
	if err != nil {
		return nil, err
	}
	planLike := chainIsPlanLike(chain)

	mode := ModeExec
	switch {
	case agentID == CompactAgentID:
		mode = ModeCompact
	case planLike:
		mode = ModePlan
	}

	depth, err := r.taskDepth(ctx, in.MinionID, in.ParentMinionID)
	if err != nil {
		return nil, err
	}
	shouldDisableTaskTools := depth >= MaxTaskNestingDepth

	policy := Compose(def.ToolPolicy, in.CallerPolicy, in.SystemMinionPolicy)
	if agentID == AutoAgentID {
		policy = append(policy, PolicyRule{Pattern: "^" + SwitchAgentTool + "$", Action: ActionEnable})
		if !in.IsSidekick {
			policy = append(policy, PolicyRule{Pattern: "^" + SwitchAgentTool + "$", Action: ActionRequire})
		}
	}
	compiled, err := policy.Compile()
	if err != nil {
		return nil, err
	}

	sentinels := map[string]bool{SwitchAgentTool: true, ProposePlanCapability: true}

	return &Result{
		AgentID:                 agentID,
		Definition:              def,
		Mode:                    mode,
		Policy:                  compiled,
		SentinelToolNames:       sentinels,
		TaskDepth:               depth,
		ShouldDisableTaskTools:  shouldDisableTaskTools,
		Disabled:                def.Disabled,
		DisabledFallbackApplied: disabledFallback,
	}, nil
}

// IsExecLike reports whether agentID's inheritance chain includes the exec
// agent, used by AgentSession to decide whether a context-exceeded sidekick
// qualifies for a hard restart. Only r's own loader is consulted: if
// agentID's definition cannot be loaded the load error is returned, and no
// parent minion's definitions are searched.
func (r *Resolver) IsExecLike(ctx context.Context, agentID string) (bool, error) {
	def, err := r.loader.Load(ctx, normalizeAgentID(agentID))
	if err != nil {
		return false, err
	}
	chain, err := r.resolveChain(ctx, def)
	if err != nil {
		return false, err
	}
	for _, d := range chain {
		if d.ID == FallbackAgentID {
			return true, nil
		}
	}
	return false, nil
}

// resolveChain walks InheritsFrom to the root, guarding against a cycle
// with the same 32-hop bound used for task depth.
func (r *Resolver) resolveChain(ctx context.Context, def *Definition) ([]*Definition, error) {
	chain := []*Definition{def}
	seen := map[string]bool{def.ID: true}
	cur := def
	for i := 0; i < CycleGuardHops && cur.InheritsFrom != ""; i++ {
		parentID := normalizeAgentID(cur.InheritsFrom)
		if seen[parentID] {
			return nil, fmt.Errorf("agentresolver: cycle detected in agent inheritance at %q", parentID)
		}
		parent, err := r.loader.Load(ctx, parentID)
		if err != nil {
			break
		}
		chain = append(chain, parent)
		seen[parentID] = true
		cur = parent
	}
	return chain, nil
}

func chainIsPlanLike(chain []*Definition) bool {
	for _, def := range chain {
		for _, cap := range def.Capabilities {
			if cap == ProposePlanCapability {
				return true
			}
		}
	}
	return false
}

// taskDepth walks parentMinionId starting from parentMinionID (the direct
// parent of minionID, if any) up to the root, erroring on a repeated minion
// or once the walk reaches CycleGuardHops as a cycle guard.
func (r *Resolver) taskDepth(ctx context.Context, minionID, parentMinionID string) (int, error) {
	if parentMinionID == "" {
		return 0, nil
	}
	if r.parents == nil {
		return 1, nil
	}
	depth := 1
	cur := parentMinionID
	visited := map[string]bool{minionID: true}
	for depth < CycleGuardHops {
		if visited[cur] {
			return 0, fmt.Errorf("agentresolver: cycle detected walking parentMinionId at %q", cur)
		}
		visited[cur] = true
		next, ok, err := r.parents.ParentOf(ctx, cur)
		if err != nil {
			return 0, err
		}
		if !ok || next == "" {
			return depth, nil
		}
		cur = next
		depth++
	}
	return 0, fmt.Errorf("agentresolver: task nesting exceeds %d hops", CycleGuardHops)
}
