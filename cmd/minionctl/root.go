package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latticehq/minionrt/internal/config"
)

// cliFlags holds the persistent flag values shared by every subcommand.
type cliFlags struct {
	configPath string
	dataRoot   string
	logLevel   string
	logFormat  string
}

func (f *cliFlags) overrides() config.Overrides {
	overrides := config.Overrides{}
	if f.dataRoot != "" {
		overrides.DataRoot = &f.dataRoot
	}
	if f.logLevel != "" {
		overrides.LogLevel = &f.logLevel
	}
	if f.logFormat != "" {
		overrides.LogFormat = &f.logFormat
	}
	return overrides
}

func (f *cliFlags) loadConfig() (config.Config, config.Metadata, error) {
	opts := []config.Option{config.WithOverrides(f.overrides())}
	if f.configPath != "" {
		opts = append(opts, config.WithConfigPath(f.configPath))
	}
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, config.Metadata{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, meta, nil
}

// NewRootCommand builds the minionctl command tree.
func NewRootCommand() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "minionctl",
		Short: "Operate and exercise the minion runtime",
		Long: `minionctl is the runtime's ops CLI: it serves the debug HTTP
surface, drives a minion's AgentSession directly (via the scriptable mock
chat driver, since the provider wire protocol is a named boundary), and
probes MCP server configs without touching a long-running deployment.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&flags.dataRoot, "data-root", "", "override the runtime's data root")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "override the log format (text|json)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newSendCommand(flags))
	root.AddCommand(newMCPCommand(flags))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "minionctl dev")
		},
	}
}
