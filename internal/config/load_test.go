package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envMap map[string]string

func (e envMap) Lookup(key string) (string, bool) {
	v, ok := e[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, meta, err := Load(
		WithEnv(envMap{}.Lookup),
		WithConfigPath(filepath.Join(dir, "missing-config.yaml")),
	)
	require.NoError(t, err)

	assert.Equal(t, DefaultDataRoot, cfg.DataRoot)
	assert.Equal(t, DefaultIdleCheckInterval, cfg.IdleCheckInterval)
	assert.Equal(t, DefaultIdleThreshold, cfg.IdleThreshold)
	assert.Equal(t, DefaultInitHookTimeout, cfg.InitHookTimeout)
	assert.Equal(t, TraceExporterNone, cfg.TraceExporter)
	assert.Equal(t, DefaultPluginsPath, cfg.PluginsPath)
	assert.Equal(t, DefaultMCPLocalPath, cfg.MCPLocalPath)
	assert.Equal(t, SourceDefault, meta.Source("data_root"))
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "data_root: /srv/minionrt\n" +
		"idle_check_interval: 30s\n" +
		"idle_threshold: 5m\n" +
		"trace_exporter: otlp\n" +
		"trace_endpoint: http://collector:4318\n" +
		"metrics_enabled: false\n" +
		"plugins_path: /etc/minionrt/plugins.json\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, meta, err := Load(WithEnv(envMap{}.Lookup), WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, "/srv/minionrt", cfg.DataRoot)
	assert.Equal(t, 30*time.Second, cfg.IdleCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.IdleThreshold)
	assert.Equal(t, "otlp", cfg.TraceExporter)
	assert.Equal(t, "http://collector:4318", cfg.TraceEndpoint)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "/etc/minionrt/plugins.json", cfg.PluginsPath)
	assert.Equal(t, SourceFile, meta.Source("data_root"))
	assert.Equal(t, SourceFile, meta.Source("metrics_enabled"))
	// Untouched by the file, still default.
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, SourceDefault, meta.Source("http_addr"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_root: /from-file\n"), 0o644))

	env := envMap{"MINIONRT_DATA_ROOT": "/from-env", "MINIONRT_IDLE_THRESHOLD": "2m"}
	cfg, meta, err := Load(WithEnv(env.Lookup), WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, "/from-env", cfg.DataRoot)
	assert.Equal(t, 2*time.Minute, cfg.IdleThreshold)
	assert.Equal(t, SourceEnv, meta.Source("data_root"))
}

func TestLoadOverridesWinOverEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_root: /from-file\n"), 0o644))

	env := envMap{"MINIONRT_DATA_ROOT": "/from-env"}
	override := "/from-override"
	cfg, meta, err := Load(
		WithEnv(env.Lookup),
		WithConfigPath(path),
		WithOverrides(Overrides{DataRoot: &override}),
	)
	require.NoError(t, err)

	assert.Equal(t, "/from-override", cfg.DataRoot)
	assert.Equal(t, SourceOverride, meta.Source("data_root"))
}

func TestLoadNormalizesInvalidTraceExporterToNone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trace_exporter: not-a-real-exporter\n"), 0o644))

	cfg, _, err := Load(WithEnv(envMap{}.Lookup), WithConfigPath(path))
	require.NoError(t, err)
	assert.Equal(t, TraceExporterNone, cfg.TraceExporter)
}

func TestLoadIgnoresUnparsableDurationEnv(t *testing.T) {
	env := envMap{"MINIONRT_IDLE_CHECK_INTERVAL": "not-a-duration"}
	cfg, _, err := Load(WithEnv(env.Lookup), WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")))
	require.NoError(t, err)
	assert.Equal(t, DefaultIdleCheckInterval, cfg.IdleCheckInterval)
}
