package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/latticehq/minionrt/internal/stream"
)

// Metrics is the process-wide Prometheus registry plus the runtime gauges
// and counters it exposes. It implements stream.Listener so the active
// stream gauge tracks Manager lifecycle events without the Manager itself
// needing to know about metrics.
type Metrics struct {
	registry *prometheus.Registry

	activeStreams prometheus.Gauge
	mcpServers    prometheus.Gauge

	usageCost   *prometheus.CounterVec
	usageTokens *prometheus.CounterVec

	toolExecutions *prometheus.CounterVec
	streamAborts   prometheus.Counter
	streamErrors   prometheus.Counter

	mu            sync.Mutex
	activeByMinion map[string]bool
}

// NewMetrics builds a Metrics registry with all runtime instruments
// registered. Pass the result to Manager.Subscribe to wire the active
// stream gauge, and to ServeMux/Handler to expose /metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "minionrt",
			Name:      "active_streams",
			Help:      "Number of minions with an in-flight stream.",
		}),
		mcpServers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "minionrt",
			Name:      "mcp_servers",
			Help:      "Number of live pooled MCP server connections.",
		}),
		usageCost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minionrt",
			Name:      "usage_cost_usd_total",
			Help:      "Cumulative recorded cost in USD, by model.",
		}, []string{"model"}),
		usageTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minionrt",
			Name:      "usage_tokens_total",
			Help:      "Cumulative recorded tokens, by model and direction.",
		}, []string{"model", "direction"}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minionrt",
			Name:      "tool_executions_total",
			Help:      "Completed tool calls, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		streamAborts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "minionrt",
			Name:      "stream_aborts_total",
			Help:      "Streams terminated by abort (user stop or supersede).",
		}),
		streamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "minionrt",
			Name:      "stream_errors_total",
			Help:      "Streams terminated by a provider or runtime error.",
		}),
		activeByMinion: make(map[string]bool),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "minionrt",
		Name:      "build_info",
		Help:      "Always 1; present so the runtime's presence is visible in queries.",
	}, func() float64 { return 1 })

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry so an OTel
// MeterProvider's Prometheus bridge (NewMeterProvider) can register into
// it and share a single /metrics endpoint with these counters/gauges.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetMCPServerCount reports the current number of live pooled MCP server
// connections. mcppool.Pool exposes no server count or change notification,
// and no caller in this module sets the gauge, so it stays at its last set
// value (0 by default).
func (m *Metrics) SetMCPServerCount(n int) {
	m.mcpServers.Set(float64(n))
}

// RecordUsage adds one usage-ledger entry's cost and token counts to the
// cumulative counters, the same figures usage.Ledger.RecordUsage persists to
// disk. No caller in this module invokes it; aiservice writes usage to the
// ledger only.
func (m *Metrics) RecordUsage(model string, inputTokens, outputTokens int64, costUSD float64) {
	m.usageCost.WithLabelValues(model).Add(costUSD)
	m.usageTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.usageTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// RecordToolExecution tallies one completed tool call.
func (m *Metrics) RecordToolExecution(tool string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

// OnEvent implements stream.Listener, tracking the active-stream gauge off
// stream-start/stream-end/stream-abort/error transitions.
func (m *Metrics) OnEvent(event stream.Event) {
	switch event.Kind {
	case stream.EventStreamStart:
		m.markActive(event.MinionID, true)
	case stream.EventStreamEnd:
		m.markActive(event.MinionID, false)
	case stream.EventStreamAbort:
		m.streamAborts.Inc()
		m.markActive(event.MinionID, false)
	case stream.EventError:
		m.streamErrors.Inc()
		m.markActive(event.MinionID, false)
	}
}

func (m *Metrics) markActive(minionID string, active bool) {
	if minionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	was := m.activeByMinion[minionID]
	if active == was {
		return
	}
	if active {
		m.activeByMinion[minionID] = true
		m.activeStreams.Inc()
		return
	}
	delete(m.activeByMinion, minionID)
	m.activeStreams.Dec()
}
