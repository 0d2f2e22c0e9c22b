package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()))
	return out.String()
}

func TestSendCommandPrintsMockReply(t *testing.T) {
	dataRoot := t.TempDir()
	out := runCLI(t, "send", "--data-root", dataRoot, "--config", filepath.Join(dataRoot, "absent.yaml"), "hello there")
	assert.Equal(t, "ok\n", out)
}

func TestSendCommandRequiresText(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"send"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestMCPTestCommandReportsNoServers(t *testing.T) {
	dataRoot := t.TempDir()
	out := runCLI(t, "mcp", "test",
		"--data-root", dataRoot,
		"--config", filepath.Join(dataRoot, "absent.yaml"),
	)
	assert.Contains(t, out, "no servers configured")
}

func TestVersionCommandPrints(t *testing.T) {
	out := runCLI(t, "version")
	assert.Contains(t, out, "minionctl")
}
