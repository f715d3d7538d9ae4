package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/entitystate.v1.SimulationState/SpawnEntity"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SimulationState", "SpawnEntity", "OK")); got != 1 {
		t.Fatalf("entitystate_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "entitystate_request_duration_seconds", map[string]string{
		"service": "SimulationState",
		"method":  "SpawnEntity",
	}); count != 1 {
		t.Fatalf("entitystate_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/entitystate.v1.Authority/ApplyIntent"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Authority", "ApplyIntent", "InvalidArgument")); got != 1 {
		t.Fatalf("entitystate_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesRegistryGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	collector.SetRegistryCounts(7, 3)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, line := range []string{
		"entitystate_requests_total",
		"entitystate_request_duration_seconds",
		"registry_entities 7",
		"registry_spawnable_types 3",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in /metrics output", line)
		}
	}
}

func TestStreamInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/entitystate.v1.SimulationState/StreamEntityStates", IsServerStream: true}
	_ = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client went away")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SimulationState", "StreamEntityStates", "Canceled")); got != 1 {
		t.Fatalf("stream requests = %v, want 1", got)
	}
}

func TestCollectorToleratesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	first.SetRegistryCounts(2, 1)
	if got := testutil.ToFloat64(second.RegisteredEntities); got != 2 {
		t.Fatalf("shared registry_entities = %v, want 2", got)
	}
}

func TestIntentCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewIntentCollector(reg)
	if err != nil {
		t.Fatalf("NewIntentCollector: %v", err)
	}
	c.RecordIntent("spawn_entity", "committed")
	c.RecordIntent("spawn_entity", "committed")
	c.RecordIntent("attach", "rejected")
	c.SetQueueDepth(-4)
	c.ObserveApply(2 * time.Millisecond)
	c.IncForwarded()

	if got := testutil.ToFloat64(c.IntentsTotal.WithLabelValues("spawn_entity", "committed")); got != 2 {
		t.Fatalf("committed spawns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.IntentsTotal.WithLabelValues("attach", "rejected")); got != 1 {
		t.Fatalf("rejected attaches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.QueueDepth); got != 0 {
		t.Fatalf("queue depth = %v, want 0 (clamped)", got)
	}
	if got := testutil.ToFloat64(c.Forwarded); got != 1 {
		t.Fatalf("forwarded = %v, want 1", got)
	}

	var nilCollector *IntentCollector
	nilCollector.RecordIntent("attach", "committed")
	nilCollector.SetQueueDepth(1)
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"/entitystate.v1.SimulationState/GetEntityState": {"SimulationState", "GetEntityState"},
		"":         {"unknown", "unknown"},
		"/noslash": {"unknown", "unknown"},
	}
	for in, want := range cases {
		svc, m := SplitMethod(in)
		if svc != want[0] || m != want[1] {
			t.Fatalf("SplitMethod(%q) = (%q, %q), want (%q, %q)", in, svc, m, want[0], want[1])
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
