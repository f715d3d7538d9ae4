package nbi

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func endedSpan(rec *tracetest.SpanRecorder, name string) (sdktrace.ReadOnlySpan, bool) {
	for _, s := range rec.Ended() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestUnarySpanCarriesEntityAndOutcome(t *testing.T) {
	rec := recordSpans(t)
	node := startAuthority(t)
	client := NewStateClient(node.conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.SpawnEntity(ctx, &protocol.SpawnEntityRequest{Xml: "box", StateName: "b1", StateReferenceFrame: "robot1"})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.StatusMessage)

	var span sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		var ok bool
		span, ok = endedSpan(rec, "EntityState/SimulationState/SpawnEntity")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	attrs := spanAttrs(span)
	assert.Equal(t, "SimulationState", attrs["rpc.service"].AsString())
	assert.Equal(t, "SpawnEntity", attrs["rpc.method"].AsString())
	assert.Equal(t, "b1", attrs[attrEntity].AsString())
	assert.Equal(t, "box", attrs[attrEntityType].AsString())
	assert.Equal(t, "robot1", attrs[attrReferenceFrame].AsString())
	assert.True(t, attrs[attrSuccess].AsBool())
	assert.Equal(t, string(protocol.Committed), attrs[attrDisposition].AsString())

	_, ok := endedSpan(rec, "StateService.SpawnEntity")
	assert.True(t, ok, "service call gets a child span")
}

func TestStreamSpanCarriesSubscription(t *testing.T) {
	rec := recordSpans(t)
	node := startAuthority(t)
	client := NewStateClient(node.conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streamCtx, closeStream := context.WithCancel(ctx)
	stream, err := client.StreamEntityStates(streamCtx, &protocol.StreamEntityStatesRequest{
		Names:          []string{"robot1"},
		ReferenceFrame: "robot1",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return node.pub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	node.pub.OnTick(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	_, err = stream.Recv()
	require.NoError(t, err)
	closeStream()

	var span sdktrace.ReadOnlySpan
	require.Eventually(t, func() bool {
		var ok bool
		span, ok = endedSpan(rec, "EntityState/SimulationState/StreamEntityStates")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	attrs := spanAttrs(span)
	assert.Equal(t, "SimulationState", attrs["rpc.service"].AsString())
	assert.Equal(t, "StreamEntityStates", attrs["rpc.method"].AsString())
	assert.Equal(t, "robot1", attrs[attrReferenceFrame].AsString())
	assert.Equal(t, int64(1), attrs[attrStreamNames].AsInt64())
	assert.Equal(t, int64(1), attrs[attrStreamBatches].AsInt64())
}
