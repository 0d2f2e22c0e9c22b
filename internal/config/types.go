// Package config loads the runtime's layered configuration (defaults ->
// config.yaml via viper -> environment -> caller overrides), tracks where
// each value came from, and watches config.yaml plus the MCP local override
// files for live reload.
package config

import "time"

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Trace exporter selections; see internal/observability.
const (
	TraceExporterNone   = "none"
	TraceExporterOTLP   = "otlp"
	TraceExporterJaeger = "jaeger"
	TraceExporterZipkin = "zipkin"
)

// Defaults mirror the standalone constants each consuming package already
// exposes (mcppool.IdleCheckInterval/IdleThreshold, initstate.HookTimeout),
// duplicated here so Config has self-contained zero values and so changing
// one doesn't silently change the other.
const (
	DefaultDataRoot = "./data"

	DefaultIdleCheckInterval = 60 * time.Second
	DefaultIdleThreshold     = 10 * time.Minute

	DefaultInitHookTimeout = 5 * time.Minute

	DefaultTraceExporter = TraceExporterNone
	DefaultMetricsEnabled = true
	DefaultMetricsAddr    = ":9090"

	DefaultPluginsPath  = "plugins.json"
	DefaultMCPLocalPath = "mcp.local.jsonc"

	DefaultHTTPAddr = ":8080"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultConfigFileName = "config.yaml"
)

// Config captures the runtime settings shared across cmd/minionctl and the
// internal packages it wires together.
type Config struct {
	// DataRoot is the directory history.Store, initstate.Manager, and
	// diffbundle persist per-minion state under.
	DataRoot string `mapstructure:"data_root" yaml:"data_root"`

	// IdleCheckInterval/IdleThreshold correspond to mcppool.WithIdleParams;
	// cmd/minionctl does not pass them to mcppool.New, so the pool runs
	// with its own defaults.
	IdleCheckInterval time.Duration `mapstructure:"idle_check_interval" yaml:"idle_check_interval"`
	IdleThreshold     time.Duration `mapstructure:"idle_threshold" yaml:"idle_threshold"`

	// InitHookTimeout corresponds to initstate.HookTimeout; initstate.Manager
	// does not read it and always waits initstate.HookTimeout.
	InitHookTimeout time.Duration `mapstructure:"init_hook_timeout" yaml:"init_hook_timeout"`

	// TraceExporter selects the observability tracing backend: otlp,
	// jaeger, zipkin, or none.
	TraceExporter  string `mapstructure:"trace_exporter" yaml:"trace_exporter"`
	TraceEndpoint  string `mapstructure:"trace_endpoint" yaml:"trace_endpoint"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	// PluginsPath is the global MCP plugin registry; MCPLocalPath is the
	// per-deployment mcp.local.jsonc/mcp.local.json override, both
	// consumed by mcppool.LoadConfig.
	PluginsPath  string `mapstructure:"plugins_path" yaml:"plugins_path"`
	MCPLocalPath string `mapstructure:"mcp_local_path" yaml:"mcp_local_path"`

	// HTTPAddr is the internal/httpapi debug surface listen address.
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Metadata contains provenance details for a loaded Config.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Sources returns a copy of the provenance map.
func (m Metadata) Sources() map[string]ValueSource {
	if m.sources == nil {
		return map[string]ValueSource{}
	}
	out := make(map[string]ValueSource, len(m.sources))
	for k, v := range m.sources {
		out[k] = v
	}
	return out
}

// Source returns the origin recorded for the given field name, or
// SourceDefault if the field was never touched by file/env/override layers.
func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns when this Config snapshot was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// Overrides conveys caller-specified values that win over file/env sources.
type Overrides struct {
	DataRoot *string `mapstructure:"data_root,omitempty" yaml:"data_root,omitempty"`

	IdleCheckInterval *time.Duration `mapstructure:"idle_check_interval,omitempty" yaml:"idle_check_interval,omitempty"`
	IdleThreshold     *time.Duration `mapstructure:"idle_threshold,omitempty" yaml:"idle_threshold,omitempty"`

	InitHookTimeout *time.Duration `mapstructure:"init_hook_timeout,omitempty" yaml:"init_hook_timeout,omitempty"`

	TraceExporter  *string `mapstructure:"trace_exporter,omitempty" yaml:"trace_exporter,omitempty"`
	TraceEndpoint  *string `mapstructure:"trace_endpoint,omitempty" yaml:"trace_endpoint,omitempty"`
	MetricsEnabled *bool   `mapstructure:"metrics_enabled,omitempty" yaml:"metrics_enabled,omitempty"`
	MetricsAddr    *string `mapstructure:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`

	PluginsPath  *string `mapstructure:"plugins_path,omitempty" yaml:"plugins_path,omitempty"`
	MCPLocalPath *string `mapstructure:"mcp_local_path,omitempty" yaml:"mcp_local_path,omitempty"`

	HTTPAddr *string `mapstructure:"http_addr,omitempty" yaml:"http_addr,omitempty"`

	LogLevel  *string `mapstructure:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat *string `mapstructure:"log_format,omitempty" yaml:"log_format,omitempty"`
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)
