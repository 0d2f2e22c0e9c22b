package config

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath is checked first when resolving which config.yaml to load.
const EnvConfigPath = "MINIONRT_CONFIG_PATH"

// ResolveConfigPath returns the config.yaml path Load should read: the
// explicit env override if set, otherwise DefaultConfigFileName in the
// current working directory.
func ResolveConfigPath(envLookup EnvLookup) string {
	if envLookup != nil {
		if path, ok := envLookup(EnvConfigPath); ok && strings.TrimSpace(path) != "" {
			return normalizePath(path)
		}
	}
	return normalizePath(DefaultConfigFileName)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// WatchPaths returns the de-duplicated, normalized set of files Watch should
// monitor for live reload: the resolved config.yaml, cfg.MCPLocalPath and,
// when that is a .jsonc path, its .json sibling, plus cfg.PluginsPath.
func WatchPaths(cfg Config, envLookup EnvLookup) []string {
	seen := make(map[string]struct{}, 4)
	var paths []string
	add := func(path string) {
		path = normalizePath(path)
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}

	add(ResolveConfigPath(envLookup))
	add(cfg.MCPLocalPath)
	add(jsonSibling(cfg.MCPLocalPath))
	add(cfg.PluginsPath)
	return paths
}

// jsonSibling maps an mcp.local.jsonc path to its mcp.local.json fallback
// name so both are watched, since mcppool.LoadConfig accepts either.
func jsonSibling(path string) string {
	if path == "" || filepath.Ext(path) != ".jsonc" {
		return ""
	}
	return strings.TrimSuffix(path, ".jsonc") + ".json"
}

// fileExists reports whether path names a regular, readable file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
