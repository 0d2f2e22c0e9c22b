package mcppool

import (
	"fmt"
	"os"

	"github.com/titanous/json5"

	"github.com/latticehq/minionrt/internal/errutil"
)

// configFile is the on-disk shape of mcp.local.jsonc / plugins.json.
type configFile struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// LoadConfig parses a JSONC (JSON5) MCP config file at path into a list of
// ServerConfig, with Name filled in from the map key. The list follows map
// iteration order, so its order is not defined.
func LoadConfig(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cf configFile
	if err := json5.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("mcppool: parse %s: %w", path, err)
	}
	out := make([]ServerConfig, 0, len(cf.Servers))
	for name, cfg := range cf.Servers {
		cfg.Name = name
		out = append(out, cfg)
	}
	return out, nil
}

// allowedTransports is the set of transports policy permits. A minion-level
// policy could further restrict this; absent one, every named transport is
// permitted.
var allowedTransports = map[Transport]bool{
	TransportStdio: true,
	TransportHTTP:  true,
	TransportSSE:   true,
}

// TransportAllowed reports whether t passes policy, used for the
// policy_denied classification of disallowed transports.
func TransportAllowed(t Transport) bool { return allowedTransports[t] }

// filterByPolicy drops configs whose transport policy forbids, returning a
// policy_denied MinionError for each one it drops (for logging/telemetry —
// the caller decides whether a denial for one server should fail the whole
// resolution or just omit that server).
func filterByPolicy(configs []ServerConfig, minionID string) ([]ServerConfig, []error) {
	var allowed []ServerConfig
	var denied []error
	for _, c := range configs {
		if c.Disabled {
			continue
		}
		if !TransportAllowed(c.Transport) {
			denied = append(denied, errutil.NewMinionError(errutil.KindPolicyDenied, minionID, "",
				fmt.Errorf("mcp server %q: transport %q is not allowed by policy", c.Name, c.Transport)))
			continue
		}
		allowed = append(allowed, c)
	}
	return allowed, denied
}
