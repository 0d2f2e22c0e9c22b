package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/latticehq/minionrt/internal/config"
)

func TestNewTracingNoneReturnsNoop(t *testing.T) {
	tr, err := NewTracing(context.Background(), config.Config{TraceExporter: config.TraceExporterNone})
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewTracingRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracing(context.Background(), config.Config{TraceExporter: "smoke-signal"})
	require.Error(t, err)
}

func TestStartStageEmitsSpanWithAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	tr := NewNoop()
	ctx, span := tr.StartStage(context.Background(), StageResolve, "minion-1", "minion-0", ModelAttr("gpt-test"))
	require.NotNil(t, ctx)
	EndStage(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "minionrt.resolve", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	var sawMinion, sawParent, sawModel bool
	for _, kv := range spans[0].Attributes() {
		switch string(kv.Key) {
		case traceAttrMinionID:
			sawMinion = kv.Value.AsString() == "minion-1"
		case traceAttrParentID:
			sawParent = kv.Value.AsString() == "minion-0"
		case traceAttrModel:
			sawModel = kv.Value.AsString() == "gpt-test"
		}
	}
	assert.True(t, sawMinion)
	assert.True(t, sawParent)
	assert.True(t, sawModel)
}

func TestEndStageRecordsErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	tr := NewNoop()
	_, span := tr.StartStage(context.Background(), StageStream, "minion-2", "", ToolAttr("search"))
	EndStage(span, errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestEndStageNilSpanIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { EndStage(nil, nil) })
}
