package mcppool

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

const clientName = "minionrt"
const clientVersion = "1.0.0"

// goMCPClient is the production serverClient backed by mark3labs/mcp-go,
// the concrete stand-in for the MCP wire protocol's byte-level framing.
type goMCPClient struct {
	transport Transport
	client    *mcpclient.Client
}

// newGoMCPClient constructs the mcp-go client for cfg's transport without
// connecting it yet; Start performs the handshake.
func newGoMCPClient(cfg ServerConfig) (serverClient, error) {
	var (
		c   *mcpclient.Client
		err error
	)
	switch cfg.Transport {
	case TransportStdio:
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	case TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		c, err = mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err = mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("mcppool: unsupported transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	return &goMCPClient{transport: cfg.Transport, client: c}, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (g *goMCPClient) Start(ctx context.Context) error {
	if g.transport != TransportStdio {
		if err := g.client.Start(ctx); err != nil {
			return err
		}
	}
	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: clientName, Version: clientVersion}
	_, err := g.client.Initialize(ctx, initReq)
	return err
}

func (g *goMCPClient) ListTools(ctx context.Context) ([]RawTool, error) {
	result, err := g.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]RawTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := map[string]any{
			"type":       t.InputSchema.Type,
			"properties": t.InputSchema.Properties,
			"required":   t.InputSchema.Required,
		}
		out = append(out, RawTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out, nil
}

func (g *goMCPClient) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := g.client.CallTool(ctx, req)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: result.Content, IsError: result.IsError}, nil
}

func (g *goMCPClient) Ping(ctx context.Context) error {
	return g.client.Ping(ctx)
}

func (g *goMCPClient) Close() error {
	return g.client.Close()
}
