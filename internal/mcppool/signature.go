package mcppool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// configSignature derives a stable signature over the sorted set of enabled
// servers' start config — stdio: {transport,command}; remote:
// {transport,url,headers-after-secret-resolution,hasOauthTokens}. Tool
// allowlists never participate; signature changes only when something that
// would require tearing down and reconnecting a client changes.
func configSignature(configs []ServerConfig) string {
	parts := make([]string, 0, len(configs))
	for _, c := range configs {
		if c.Disabled {
			continue
		}
		switch c.Transport {
		case TransportStdio:
			parts = append(parts, fmt.Sprintf("%s|stdio|%s", c.Name, c.Command))
		default:
			parts = append(parts, fmt.Sprintf("%s|%s|%s|%s|%v", c.Name, c.Transport, c.URL, headerSignature(c.Headers), c.HasOAuthTokens))
		}
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

func headerSignature(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(headers[k])
		b.WriteByte(';')
	}
	return b.String()
}

// enabledByName indexes configs by name, dropping disabled entries.
func enabledByName(configs []ServerConfig) map[string]ServerConfig {
	out := make(map[string]ServerConfig, len(configs))
	for _, c := range configs {
		if !c.Disabled {
			out[c.Name] = c
		}
	}
	return out
}

// mergeProjectAndOverrides implements ProjectServers ⊕ MinionOverrides:
// overrides replace project entries of the same name, and can add or
// disable servers the project doesn't name.
func mergeProjectAndOverrides(project, overrides []ServerConfig) []ServerConfig {
	merged := make(map[string]ServerConfig, len(project)+len(overrides))
	order := make([]string, 0, len(project)+len(overrides))
	for _, c := range project {
		merged[c.Name] = c
		order = append(order, c.Name)
	}
	for _, c := range overrides {
		if _, exists := merged[c.Name]; !exists {
			order = append(order, c.Name)
		}
		merged[c.Name] = c
	}
	out := make([]ServerConfig, 0, len(order))
	for _, name := range order {
		out = append(out, merged[name])
	}
	return out
}
