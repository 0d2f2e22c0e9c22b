// Package observability wires the runtime's OpenTelemetry tracing and
// Prometheus metrics: one span per pipeline stage (resolve, prepare,
// preflight, stream, finalize), plus gauges/counters tracking active
// streams, pooled MCP servers, and recorded usage cost.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/latticehq/minionrt/internal/config"
)

const (
	traceScopeMinion = "minionrt.pipeline"

	traceAttrMinionID     = "minionrt.minion_id"
	traceAttrParentID     = "minionrt.parent_id"
	traceAttrStage        = "minionrt.stage"
	traceAttrStatus       = "minionrt.status"
	traceAttrModel        = "minionrt.model"
	traceAttrToolName     = "minionrt.tool_name"
)

// Stage names the pipeline phases a minion turn passes through; each gets
// its own span.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StagePrepare   Stage = "prepare"
	StagePreflight Stage = "preflight"
	StageStream    Stage = "stream"
	StageFinalize  Stage = "finalize"
)

// Tracing owns the process-wide TracerProvider and its shutdown hook.
type Tracing struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewNoop returns a Tracing that takes its tracer from the global
// TracerProvider (otel's no-op one unless otel.SetTracerProvider has been
// called) — used when cfg.TraceExporter is "none" or unset.
func NewNoop() *Tracing {
	return &Tracing{
		tracer:   otel.Tracer(traceScopeMinion),
		shutdown: func(context.Context) error { return nil },
	}
}

// NewTracing builds a TracerProvider for cfg.TraceExporter ("otlp", "jaeger",
// "zipkin", or "none") and registers it as the global provider.
func NewTracing(ctx context.Context, cfg config.Config) (*Tracing, error) {
	if cfg.TraceExporter == "" || cfg.TraceExporter == config.TraceExporterNone {
		return NewNoop(), nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: build exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("minionrt")),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Tracing{
		tracer:   tp.Tracer(traceScopeMinion),
		shutdown: tp.Shutdown,
	}, nil
}

func newExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case config.TraceExporterOTLP:
		opts := []otlptracehttp.Option{}
		if cfg.TraceEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.TraceEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	case config.TraceExporterJaeger:
		endpoint := cfg.TraceEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:14268/api/traces"
		}
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	case config.TraceExporterZipkin:
		endpoint := cfg.TraceEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		return zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("observability: unknown trace exporter %q", cfg.TraceExporter)
	}
}

// Shutdown flushes and closes the underlying TracerProvider, if any.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// StartStage opens a span for one pipeline stage of a minion turn.
func (t *Tracing) StartStage(ctx context.Context, stage Stage, minionID, parentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := t.tracer
	if tracer == nil {
		tracer = otel.Tracer(traceScopeMinion)
	}

	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+3)
	spanAttrs = append(spanAttrs, attribute.String(traceAttrStage, string(stage)))
	if minionID != "" {
		spanAttrs = append(spanAttrs, attribute.String(traceAttrMinionID, minionID))
	}
	if parentID != "" {
		spanAttrs = append(spanAttrs, attribute.String(traceAttrParentID, parentID))
	}
	spanAttrs = append(spanAttrs, attrs...)

	spanName := fmt.Sprintf("minionrt.%s", stage)
	return tracer.Start(ctx, spanName, trace.WithAttributes(spanAttrs...))
}

// EndStage closes a span opened by StartStage, recording err (if any) as
// the span's terminal status.
func EndStage(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrStatus, "success"))
}

// ToolAttr builds the tool-name span attribute used around tool execution.
func ToolAttr(name string) attribute.KeyValue { return attribute.String(traceAttrToolName, name) }

// ModelAttr builds the model span attribute used around LLM calls.
func ModelAttr(model string) attribute.KeyValue { return attribute.String(traceAttrModel, model) }
