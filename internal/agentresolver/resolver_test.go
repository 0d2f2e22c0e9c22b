package agentresolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/minionrt/internal/errutil"
)

type fakeParents struct {
	parentOf map[string]string
}

func (f fakeParents) ParentOf(ctx context.Context, minionID string) (string, bool, error) {
	p, ok := f.parentOf[minionID]
	return p, ok, nil
}

func baseLoader() MapLoader {
	return MapLoader{
		"exec": {ID: "exec", ToolPolicy: ToolPolicy{{Pattern: "^dangerous$", Action: ActionDisable}}},
		"planner": {
			ID: "planner", InheritsFrom: "exec",
			Capabilities: []string{ProposePlanCapability},
		},
		"compact": {ID: "compact"},
		"auto":    {ID: "auto"},
		"disabled-agent": {
			ID: "disabled-agent", Disabled: true,
		},
		"system-chat": {ID: "system-chat"},
	}
}

func TestResolveNormalizesInvalidRequestedIDToExec(t *testing.T) {
	r := New(baseLoader(), nil, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{RequestedAgentID: "   NOT!!VALID  "})
	require.NoError(t, err)
	assert.Equal(t, "exec", res.AgentID)
	assert.Equal(t, ModeExec, res.Mode)
}

func TestResolveDetectsPlanLikeThroughInheritance(t *testing.T) {
	r := New(baseLoader(), nil, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{RequestedAgentID: "planner"})
	require.NoError(t, err)
	assert.Equal(t, ModePlan, res.Mode)
}

func TestResolveCompactModeForCompactAgent(t *testing.T) {
	r := New(baseLoader(), nil, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{RequestedAgentID: "compact"})
	require.NoError(t, err)
	assert.Equal(t, ModeCompact, res.Mode)
}

func TestResolveSidekickDisabledAgentFailsFast(t *testing.T) {
	r := New(baseLoader(), nil, nil)
	_, err := r.Resolve(context.Background(), ResolveInput{
		RequestedAgentID: "disabled-agent", IsSidekick: true, PersistedAgentID: "disabled-agent",
	})
	require.Error(t, err)
	assert.Equal(t, errutil.KindPolicyDenied, errutil.KindOf(err))
	assert.Contains(t, err.Error(), "disabled")
}

func TestResolveTopLevelDisabledAgentFallsBackToExec(t *testing.T) {
	r := New(baseLoader(), nil, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{RequestedAgentID: "disabled-agent"})
	require.NoError(t, err)
	assert.Equal(t, "exec", res.AgentID)
	assert.True(t, res.DisabledFallbackApplied)
}

func TestResolveSidekickUsesPersistedAgentNotRequest(t *testing.T) {
	r := New(baseLoader(), nil, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{
		RequestedAgentID: "planner", IsSidekick: true, PersistedAgentID: "exec",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec", res.AgentID)
}

func TestResolveAutoAgentForcesSwitchAgentTool(t *testing.T) {
	r := New(baseLoader(), nil, nil)

	topLevel, err := r.Resolve(context.Background(), ResolveInput{RequestedAgentID: "auto"})
	require.NoError(t, err)
	assert.Equal(t, ActionRequire, topLevel.Policy.Resolve("switch_agent"))

	sidekick, err := r.Resolve(context.Background(), ResolveInput{
		RequestedAgentID: "auto", IsSidekick: true, PersistedAgentID: "auto",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionEnable, sidekick.Policy.Resolve("switch_agent"))
}

func TestResolveComposesToolPolicyInPrecedenceOrder(t *testing.T) {
	r := New(baseLoader(), nil, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{
		RequestedAgentID: "exec",
		CallerPolicy:     ToolPolicy{{Pattern: "^dangerous$", Action: ActionEnable}},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionEnable, res.Policy.Resolve("dangerous"), "caller policy overrides the agent's own disable rule")
}

func TestTaskDepthWalksParentChain(t *testing.T) {
	parents := fakeParents{parentOf: map[string]string{
		"child":      "grandparent",
		"grandparent": "root",
	}}
	r := New(baseLoader(), parents, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{
		RequestedAgentID: "exec", MinionID: "leaf", ParentMinionID: "child",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TaskDepth)
	assert.False(t, res.ShouldDisableTaskTools)
}

func TestTaskDepthCycleGuardErrors(t *testing.T) {
	parents := fakeParents{parentOf: map[string]string{
		"a": "b",
		"b": "a",
	}}
	r := New(baseLoader(), parents, nil)
	_, err := r.Resolve(context.Background(), ResolveInput{
		RequestedAgentID: "exec", MinionID: "leaf", ParentMinionID: "a",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestTaskDepthDisablesTaskToolsAtMaxNesting(t *testing.T) {
	parentOf := make(map[string]string)
	for i := 0; i < MaxTaskNestingDepth+2; i++ {
		parentOf[idFor(i)] = idFor(i + 1)
	}
	r := New(baseLoader(), fakeParents{parentOf: parentOf}, nil)
	res, err := r.Resolve(context.Background(), ResolveInput{
		RequestedAgentID: "exec", MinionID: "leaf", ParentMinionID: idFor(0),
	})
	require.NoError(t, err)
	assert.True(t, res.ShouldDisableTaskTools)
}

func idFor(i int) string {
	return "m" + string(rune('a'+i%26)) + string(rune('A'+(i/26)%26))
}

func TestCachingLoaderServesFromCacheOnSecondLoad(t *testing.T) {
	underlying := baseLoader()
	calls := 0
	counting := loaderFunc(func(ctx context.Context, id string) (*Definition, error) {
		calls++
		return underlying.Load(ctx, id)
	})
	cached := NewCachingLoader(counting, "v1")

	_, err := cached.Load(context.Background(), "exec")
	require.NoError(t, err)
	_, err = cached.Load(context.Background(), "exec")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	cached.SetConfigVersion("v2")
	_, err = cached.Load(context.Background(), "exec")
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "bumping the config version must invalidate the cache key space")
}

type loaderFunc func(ctx context.Context, id string) (*Definition, error)

func (f loaderFunc) Load(ctx context.Context, id string) (*Definition, error) { return f(ctx, id) }

func TestToolPolicyLastMatchWins(t *testing.T) {
	p := ToolPolicy{
		{Pattern: "^fs_.*$", Action: ActionDisable},
		{Pattern: "^fs_read$", Action: ActionEnable},
	}
	compiled, err := p.Compile()
	require.NoError(t, err)
	assert.Equal(t, ActionEnable, compiled.Resolve("fs_read"))
	assert.Equal(t, ActionDisable, compiled.Resolve("fs_write"))
}
