// Command minionctl is the ops CLI used to exercise the runtime directly:
// serve its debug HTTP surface, send a message through a minion's session
// state machine, and probe MCP server configs, all without a TUI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "minionctl: %v\n", err)
		os.Exit(1)
	}
}
