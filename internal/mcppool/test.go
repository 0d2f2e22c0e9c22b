package mcppool

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// TestTimeout bounds a single Test probe.
const TestTimeout = 10 * time.Second

// TestResult is the outcome of a short-lived connect-list-close probe.
type TestResult struct {
	OK         bool
	ToolCount  int
	Err        error
	OAuth      *OAuthChallenge
	Transport  Transport
	FellBackTo Transport
}

// Test performs a short-lived connect → list tools → close probe against
// cfg, without adding it to the long-lived pool. On a 401/403 remote
// response it parses WWW-Authenticate for an OAuth challenge; on
// 400/404/405 against an http transport it retries once over sse.
func (p *Pool) Test(ctx context.Context, cfg ServerConfig) TestResult {
	ctx, cancel := context.WithTimeout(ctx, TestTimeout)
	defer cancel()

	result := p.probe(ctx, cfg)
	if result.OK || cfg.Transport != TransportHTTP {
		return result
	}
	if !isFallbackEligible(result.Err) {
		return result
	}

	sseCfg := cfg
	sseCfg.Transport = TransportSSE
	fallback := p.probe(ctx, sseCfg)
	fallback.FellBackTo = TransportSSE
	return fallback
}

func (p *Pool) probe(ctx context.Context, cfg ServerConfig) TestResult {
	client, err := p.newClient(cfg)
	if err != nil {
		return TestResult{Transport: cfg.Transport, Err: err, OAuth: challengeFromError(ctx, cfg, err)}
	}
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		return TestResult{Transport: cfg.Transport, Err: err, OAuth: challengeFromError(ctx, cfg, err)}
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return TestResult{Transport: cfg.Transport, Err: err, OAuth: challengeFromError(ctx, cfg, err)}
	}
	return TestResult{OK: true, ToolCount: len(tools), Transport: cfg.Transport}
}

var statusInErr = regexp.MustCompile(`\b(400|401|403|404|405)\b`)

func isFallbackEligible(err error) bool {
	if err == nil {
		return false
	}
	m := statusInErr.FindString(err.Error())
	return m == "400" || m == "404" || m == "405"
}

// challengeFromError looks for a status code embedded in err's message
// (401/403) and, if found, probes the server's URL directly for a
// WWW-Authenticate challenge when the MCP client error didn't carry one.
func challengeFromError(ctx context.Context, cfg ServerConfig, err error) *OAuthChallenge {
	if err == nil || cfg.URL == "" {
		return nil
	}
	m := statusInErr.FindString(err.Error())
	if m != "401" && m != "403" {
		return nil
	}
	if c := parseWWWAuthenticate(err.Error()); c != nil {
		return c
	}
	return probeWWWAuthenticate(ctx, cfg)
}

var bearerChallengeRe = regexp.MustCompile(`(?i)Bearer\s+(.*)`)
var challengeParamRe = regexp.MustCompile(`([a-zA-Z_]+)="([^"]*)"`)

func parseWWWAuthenticate(header string) *OAuthChallenge {
	m := bearerChallengeRe.FindStringSubmatch(header)
	if m == nil {
		return nil
	}
	challenge := &OAuthChallenge{}
	for _, kv := range challengeParamRe.FindAllStringSubmatch(m[1], -1) {
		switch strings.ToLower(kv[1]) {
		case "scope":
			challenge.Scope = kv[2]
		case "resource_metadata", "resource_metadata_url":
			challenge.ResourceMetadataURL = kv[2]
		}
	}
	return challenge
}

// probeWWWAuthenticate issues a direct GET against cfg.URL with an SSE
// Accept header, used when the MCP client's error text didn't carry the
// WWW-Authenticate header itself.
func probeWWWAuthenticate(ctx context.Context, cfg ServerConfig) *OAuthChallenge {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return nil
	}
	return parseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
}
