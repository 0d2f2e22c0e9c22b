package mcppool

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/latticehq/minionrt/internal/logging"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9_]+`)

// normalizeToolName renders a provider-safe "{server}_{tool}" name:
// lowercase, non-alphanumeric runs collapsed to underscore.
func normalizeToolName(server, tool string) string {
	base := strings.ToLower(server) + "_" + strings.ToLower(tool)
	return nonAlnum.ReplaceAllString(base, "_")
}

// dedupeToolName resolves a collision against seen by appending a
// deterministic hash suffix, logging a warning when it does.
func dedupeToolName(base string, seen map[string]bool, logger logging.Logger) string {
	if !seen[base] {
		seen[base] = true
		return base
	}
	sum := sha256.Sum256([]byte(base))
	suffix := hex.EncodeToString(sum[:])[:6]
	candidate := base + "_" + suffix
	for seen[candidate] {
		sum = sha256.Sum256([]byte(candidate))
		candidate = base + "_" + hex.EncodeToString(sum[:])[:6]
	}
	seen[candidate] = true
	logging.OrNop(logger).Warn("mcppool: tool name collision on %q, using suffixed name %q", base, candidate)
	return candidate
}

// normalizeServerTools converts a server's raw tool list into provider-safe
// Tool values, resolving collisions against the names already in seen.
func normalizeServerTools(serverName string, raw []RawTool, seen map[string]bool, logger logging.Logger) []Tool {
	tools := make([]Tool, 0, len(raw))
	for _, r := range raw {
		base := normalizeToolName(serverName, r.Name)
		name := dedupeToolName(base, seen, logger)
		tools = append(tools, Tool{
			Name:         name,
			OriginalName: r.Name,
			ServerName:   serverName,
			Description:  r.Description,
			InputSchema:  r.InputSchema,
		})
	}
	return tools
}

// filterByAllowlist returns the subset of tools allowed by allowlist. A nil
// or empty allowlist means "all tools from this server are allowed".
func filterByAllowlist(tools []Tool, allowlist []string) []Tool {
	if len(allowlist) == 0 {
		return tools
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if allowed[t.OriginalName] || allowed[t.Name] {
			out = append(out, t)
		}
	}
	return out
}
