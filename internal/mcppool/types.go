// Package mcppool implements MCPServerPool: the per-minion cache of live MCP
// server connections, their lease-counted lifecycle, idle garbage
// collection, and tool-name normalization for the provider-facing surface.
package mcppool

import (
	"context"
	"time"
)

// Transport names how a server is reached.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// ServerConfig is one entry from the project's mcp.local.jsonc (or a
// per-minion override), before policy filtering.
type ServerConfig struct {
	Name           string            `json:"name"`
	Transport      Transport         `json:"transport"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	URL            string            `json:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	HasOAuthTokens bool              `json:"hasOauthTokens,omitempty"`
	Disabled       bool              `json:"disabled,omitempty"`

	// ToolAllowlist restricts which of this server's tools are surfaced to a
	// given minion. It is intentionally NOT part of the config signature.
	ToolAllowlist []string `json:"toolAllowlist,omitempty"`
}

// Tool is a provider-safe, de-duplicated tool surfaced by one MCP server.
type Tool struct {
	Name         string         `json:"name"`
	OriginalName string         `json:"originalName"`
	ServerName   string         `json:"serverName"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
}

// RawTool is what a server reports before normalization.
type RawTool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolResult is the outcome of a CallTool, already shaped for the provider.
type ToolResult struct {
	Content any
	IsError bool
}

// OAuthChallenge is surfaced by Test when a remote server answers 401/403
// with a Bearer WWW-Authenticate challenge.
type OAuthChallenge struct {
	Scope               string
	ResourceMetadataURL string
}

// serverClient is the seam between Pool and the concrete MCP wire client
// (mark3labs/mcp-go in production, a fake in tests).
type serverClient interface {
	Start(ctx context.Context) error
	ListTools(ctx context.Context) ([]RawTool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// clientFactory constructs a serverClient for cfg; swapped out in tests.
type clientFactory func(cfg ServerConfig) (serverClient, error)

// instance is one running MCPServerInstance.
type instance struct {
	name              string
	resolvedTransport Transport
	client            serverClient
	tools             []Tool
	closed            bool
	lastError         error
	startedAt         time.Time
}

func (i *instance) IsClosed() bool { return i.closed }

func (i *instance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.client.Close()
}
