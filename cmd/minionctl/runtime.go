package main

import (
	"context"

	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/agentsession"
	"github.com/latticehq/minionrt/internal/chatdriver"
	"github.com/latticehq/minionrt/internal/config"
	"github.com/latticehq/minionrt/internal/history"
	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/usage"
)

// noParentLookup is the agentresolver.ParentLookup used when minionctl
// drives a single root minion with no sidekick tree to walk.
type noParentLookup struct{}

func (noParentLookup) ParentOf(ctx context.Context, minionID string) (string, bool, error) {
	return "", false, nil
}

// defaultAgentLoader is the minimal agent definition minionctl registers
// so AgentResolver has something to resolve against when exercising a
// session from the command line.
func defaultAgentLoader() agentresolver.MapLoader {
	return agentresolver.MapLoader{
		"default": {ID: "default", DisplayName: "default"},
	}
}

// runtimeDeps bundles the components every subcommand that touches a
// minion needs: a logger, the usage ledger, chat history, a resolver, and
// the mock chat driver standing in for the (out-of-scope) provider wire
// protocol.
type runtimeDeps struct {
	cfg     config.Config
	logger  logging.Logger
	ledger  *usage.Ledger
	history *history.Store
	driver  *chatdriver.Mock
	resolver *agentresolver.Resolver
}

func buildRuntimeDeps(cfg config.Config) *runtimeDeps {
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat)}).With("component", "minionctl")

	historyStore := history.New(cfg.DataRoot, logger)
	driver := chatdriver.NewMock(historyStore, logger)
	resolver := agentresolver.New(defaultAgentLoader(), noParentLookup{}, logger)

	return &runtimeDeps{
		cfg:      cfg,
		logger:   logger,
		ledger:   usage.New(cfg.DataRoot, logger),
		history:  historyStore,
		driver:   driver,
		resolver: resolver,
	}
}

// newSession constructs an AgentSession for minionID over deps, registering
// the minion with the mock driver first so GetMinionMetadata succeeds.
func (d *runtimeDeps) newSession(minionID string) *agentsession.Session {
	d.driver.RegisterMinion(minion.Minion{
		ID:            minionID,
		Name:          minionID,
		RuntimeConfig: minion.RuntimeConfig{Kind: minion.RuntimeLocal},
		AgentID:       "default",
	})
	return agentsession.New(minionID, d.driver, d.history, d.resolver, d.cfg.DataRoot, d.logger, agentsession.Options{})
}
