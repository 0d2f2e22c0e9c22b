package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/mcppool"
)

func newMCPCommand(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect and probe configured MCP servers",
	}
	cmd.AddCommand(newMCPTestCommand(flags))
	return cmd
}

func newMCPTestCommand(flags *cliFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Connect to a configured MCP server, list its tools, and disconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}

			servers, err := mcppool.LoadConfig(cfg.MCPLocalPath)
			if err != nil {
				return fmt.Errorf("load mcp config: %w", err)
			}
			if len(servers) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no servers configured at %s\n", cfg.MCPLocalPath)
				return nil
			}

			pool := mcppool.New(logging.NewComponentLogger("mcp-test"))

			for _, server := range servers {
				if name != "" && server.Name != name {
					continue
				}
				result := pool.Test(cmd.Context(), server)
				if result.OK {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d tools (transport=%s)\n", server.Name, result.ToolCount, server.Transport)
					continue
				}
				detail := ""
				if result.Err != nil {
					detail = result.Err.Error()
				}
				if result.OAuth != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: auth required (%s)\n", server.Name, detail)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: failed: %s\n", server.Name, detail)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only probe the server with this name")
	return cmd
}
