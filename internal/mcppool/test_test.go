package mcppool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseWWWAuthenticateExtractsScopeAndResourceMetadata(t *testing.T) {
	header := `Bearer realm="mcp", scope="tools.read", resource_metadata="https://example.com/.well-known/oauth"`
	challenge := parseWWWAuthenticate(header)
	assert.NotNil(t, challenge)
	assert.Equal(t, "tools.read", challenge.Scope)
	assert.Equal(t, "https://example.com/.well-known/oauth", challenge.ResourceMetadataURL)
}

func TestParseWWWAuthenticateReturnsNilForNonBearer(t *testing.T) {
	assert.Nil(t, parseWWWAuthenticate(`Basic realm="mcp"`))
	assert.Nil(t, parseWWWAuthenticate(""))
}

func TestIsFallbackEligibleMatchesOnlyRetryableStatuses(t *testing.T) {
	assert.True(t, isFallbackEligible(errors.New("http 400 bad request")))
	assert.True(t, isFallbackEligible(errors.New("not found (404)")))
	assert.True(t, isFallbackEligible(errors.New("405 method not allowed")))
	assert.False(t, isFallbackEligible(errors.New("500 internal server error")))
	assert.False(t, isFallbackEligible(nil))
}

func TestChallengeFromErrorIgnoresNonAuthStatuses(t *testing.T) {
	cfg := ServerConfig{Name: "svc", URL: "https://example.invalid/mcp"}
	assert.Nil(t, challengeFromError(nil, cfg, errors.New("500 internal server error")))
	assert.Nil(t, challengeFromError(nil, cfg, nil))
}

func TestTestProbeSucceedsAgainstHealthyServer(t *testing.T) {
	p := New(nil, WithClientFactory(func(cfg ServerConfig) (serverClient, error) {
		return &fakeClient{cfg: cfg, tools: []RawTool{{Name: "ping"}}}, nil
	}))
	result := p.Test(context.Background(), stdioCfg("fs"))
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.ToolCount)
}

func TestTestProbeFallsBackFromHTTPToSSEOn404(t *testing.T) {
	calls := 0
	p := New(nil, WithClientFactory(func(cfg ServerConfig) (serverClient, error) {
		calls++
		if cfg.Transport == TransportHTTP {
			return &fakeClient{cfg: cfg, startErr: errors.New("404 not found")}, nil
		}
		return &fakeClient{cfg: cfg, tools: []RawTool{{Name: "ping"}}}, nil
	}))
	cfg := ServerConfig{Name: "svc", Transport: TransportHTTP, URL: "https://example.invalid/mcp"}
	result := p.Test(context.Background(), cfg)
	assert.True(t, result.OK)
	assert.Equal(t, TransportSSE, result.FellBackTo)
	assert.Equal(t, 2, calls)
}
