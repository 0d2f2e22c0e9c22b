package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load builds the runtime Config by layering, in increasing precedence:
// built-in defaults, config.yaml (read through viper), environment
// variables, then caller-supplied Overrides. Metadata records which layer
// last touched each field.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{envLookup: DefaultEnvLookup}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	setSource := func(field string, source ValueSource) { meta.sources[field] = source }

	cfg := Config{
		DataRoot:          DefaultDataRoot,
		IdleCheckInterval: DefaultIdleCheckInterval,
		IdleThreshold:     DefaultIdleThreshold,
		InitHookTimeout:   DefaultInitHookTimeout,
		TraceExporter:     DefaultTraceExporter,
		MetricsEnabled:    DefaultMetricsEnabled,
		MetricsAddr:       DefaultMetricsAddr,
		PluginsPath:       DefaultPluginsPath,
		MCPLocalPath:      DefaultMCPLocalPath,
		HTTPAddr:          DefaultHTTPAddr,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
	}

	if err := applyFile(&cfg, &meta, options, setSource); err != nil {
		return Config{}, Metadata{}, err
	}
	applyEnv(&cfg, &meta, options, setSource)
	applyOverrides(&cfg, &meta, options.overrides, setSource)
	normalize(&cfg)

	return cfg, meta, nil
}

// applyFile reads config.yaml through an isolated viper instance (so
// concurrent Load calls in tests never race on viper's package-level
// globals) and overwrites any field the file sets.
func applyFile(cfg *Config, meta *Metadata, options loadOptions, setSource func(string, ValueSource)) error {
	path := options.configPath
	if path == "" {
		path = ResolveConfigPath(options.envLookup)
	}
	if !fileExists(path) {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	touch := func(key string, field string, apply func()) {
		if !v.IsSet(key) {
			return
		}
		apply()
		setSource(field, SourceFile)
	}

	touch("data_root", "data_root", func() { cfg.DataRoot = v.GetString("data_root") })
	touch("idle_check_interval", "idle_check_interval", func() { cfg.IdleCheckInterval = v.GetDuration("idle_check_interval") })
	touch("idle_threshold", "idle_threshold", func() { cfg.IdleThreshold = v.GetDuration("idle_threshold") })
	touch("init_hook_timeout", "init_hook_timeout", func() { cfg.InitHookTimeout = v.GetDuration("init_hook_timeout") })
	touch("trace_exporter", "trace_exporter", func() { cfg.TraceExporter = v.GetString("trace_exporter") })
	touch("trace_endpoint", "trace_endpoint", func() { cfg.TraceEndpoint = v.GetString("trace_endpoint") })
	touch("metrics_enabled", "metrics_enabled", func() { cfg.MetricsEnabled = v.GetBool("metrics_enabled") })
	touch("metrics_addr", "metrics_addr", func() { cfg.MetricsAddr = v.GetString("metrics_addr") })
	touch("plugins_path", "plugins_path", func() { cfg.PluginsPath = v.GetString("plugins_path") })
	touch("mcp_local_path", "mcp_local_path", func() { cfg.MCPLocalPath = v.GetString("mcp_local_path") })
	touch("http_addr", "http_addr", func() { cfg.HTTPAddr = v.GetString("http_addr") })
	touch("log_level", "log_level", func() { cfg.LogLevel = v.GetString("log_level") })
	touch("log_format", "log_format", func() { cfg.LogFormat = v.GetString("log_format") })

	return nil
}

// applyEnv overlays MINIONRT_* environment variables, the next layer after
// config.yaml and before caller overrides.
func applyEnv(cfg *Config, meta *Metadata, options loadOptions, setSource func(string, ValueSource)) {
	lookup := options.envLookup
	if lookup == nil {
		lookup = DefaultEnvLookup
	}

	str := func(env, field string, dst *string) {
		if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
			*dst = v
			setSource(field, SourceEnv)
		}
	}
	dur := func(env, field string, dst *time.Duration) {
		v, ok := lookup(env)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
			setSource(field, SourceEnv)
		}
	}
	boolean := func(env, field string, dst *bool) {
		v, ok := lookup(env)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
			setSource(field, SourceEnv)
		}
	}

	str("MINIONRT_DATA_ROOT", "data_root", &cfg.DataRoot)
	dur("MINIONRT_IDLE_CHECK_INTERVAL", "idle_check_interval", &cfg.IdleCheckInterval)
	dur("MINIONRT_IDLE_THRESHOLD", "idle_threshold", &cfg.IdleThreshold)
	dur("MINIONRT_INIT_HOOK_TIMEOUT", "init_hook_timeout", &cfg.InitHookTimeout)
	str("MINIONRT_TRACE_EXPORTER", "trace_exporter", &cfg.TraceExporter)
	str("MINIONRT_TRACE_ENDPOINT", "trace_endpoint", &cfg.TraceEndpoint)
	boolean("MINIONRT_METRICS_ENABLED", "metrics_enabled", &cfg.MetricsEnabled)
	str("MINIONRT_METRICS_ADDR", "metrics_addr", &cfg.MetricsAddr)
	str("MINIONRT_PLUGINS_PATH", "plugins_path", &cfg.PluginsPath)
	str("MINIONRT_MCP_LOCAL_PATH", "mcp_local_path", &cfg.MCPLocalPath)
	str("MINIONRT_HTTP_ADDR", "http_addr", &cfg.HTTPAddr)
	str("MINIONRT_LOG_LEVEL", "log_level", &cfg.LogLevel)
	str("MINIONRT_LOG_FORMAT", "log_format", &cfg.LogFormat)
}

func applyOverrides(cfg *Config, meta *Metadata, overrides Overrides, setSource func(string, ValueSource)) {
	if overrides.DataRoot != nil {
		cfg.DataRoot = *overrides.DataRoot
		setSource("data_root", SourceOverride)
	}
	if overrides.IdleCheckInterval != nil {
		cfg.IdleCheckInterval = *overrides.IdleCheckInterval
		setSource("idle_check_interval", SourceOverride)
	}
	if overrides.IdleThreshold != nil {
		cfg.IdleThreshold = *overrides.IdleThreshold
		setSource("idle_threshold", SourceOverride)
	}
	if overrides.InitHookTimeout != nil {
		cfg.InitHookTimeout = *overrides.InitHookTimeout
		setSource("init_hook_timeout", SourceOverride)
	}
	if overrides.TraceExporter != nil {
		cfg.TraceExporter = *overrides.TraceExporter
		setSource("trace_exporter", SourceOverride)
	}
	if overrides.TraceEndpoint != nil {
		cfg.TraceEndpoint = *overrides.TraceEndpoint
		setSource("trace_endpoint", SourceOverride)
	}
	if overrides.MetricsEnabled != nil {
		cfg.MetricsEnabled = *overrides.MetricsEnabled
		setSource("metrics_enabled", SourceOverride)
	}
	if overrides.MetricsAddr != nil {
		cfg.MetricsAddr = *overrides.MetricsAddr
		setSource("metrics_addr", SourceOverride)
	}
	if overrides.PluginsPath != nil {
		cfg.PluginsPath = *overrides.PluginsPath
		setSource("plugins_path", SourceOverride)
	}
	if overrides.MCPLocalPath != nil {
		cfg.MCPLocalPath = *overrides.MCPLocalPath
		setSource("mcp_local_path", SourceOverride)
	}
	if overrides.HTTPAddr != nil {
		cfg.HTTPAddr = *overrides.HTTPAddr
		setSource("http_addr", SourceOverride)
	}
	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
		setSource("log_level", SourceOverride)
	}
	if overrides.LogFormat != nil {
		cfg.LogFormat = *overrides.LogFormat
		setSource("log_format", SourceOverride)
	}
}

// normalize trims strings and clamps durations/unset fields back to their
// defaults.
func normalize(cfg *Config) {
	cfg.DataRoot = strings.TrimSpace(cfg.DataRoot)
	cfg.TraceExporter = strings.TrimSpace(cfg.TraceExporter)
	cfg.TraceEndpoint = strings.TrimSpace(cfg.TraceEndpoint)
	cfg.MetricsAddr = strings.TrimSpace(cfg.MetricsAddr)
	cfg.PluginsPath = strings.TrimSpace(cfg.PluginsPath)
	cfg.MCPLocalPath = strings.TrimSpace(cfg.MCPLocalPath)
	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	cfg.LogLevel = strings.TrimSpace(cfg.LogLevel)
	cfg.LogFormat = strings.TrimSpace(cfg.LogFormat)

	if cfg.DataRoot == "" {
		cfg.DataRoot = DefaultDataRoot
	}
	if cfg.IdleCheckInterval <= 0 {
		cfg.IdleCheckInterval = DefaultIdleCheckInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	if cfg.InitHookTimeout <= 0 {
		cfg.InitHookTimeout = DefaultInitHookTimeout
	}
	switch cfg.TraceExporter {
	case TraceExporterOTLP, TraceExporterJaeger, TraceExporterZipkin, TraceExporterNone:
	default:
		cfg.TraceExporter = TraceExporterNone
	}
	if cfg.PluginsPath == "" {
		cfg.PluginsPath = DefaultPluginsPath
	}
	if cfg.MCPLocalPath == "" {
		cfg.MCPLocalPath = DefaultMCPLocalPath
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
}
