package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Collector bundles Prometheus metrics for the entity-state gRPC surface and
// the registry behind it, and provides helpers to wire them into gRPC servers
// and HTTP handlers.
type Collector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	RegisteredEntities prometheus.Gauge
	SpawnableTypes     prometheus.Gauge
}

// NewCollector registers RPC and registry metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entitystate_requests_total",
		Help: "Total number of handled entity-state RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "entitystate_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "entitystate_request_duration_seconds",
		Help:    "Entity-state RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "entitystate_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	entities, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_entities",
		Help: "Current number of entities under simulation state control.",
	}), "registry_entities")
	if err != nil {
		return nil, err
	}
	types, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_spawnable_types",
		Help: "Current number of spawnable entity types.",
	}), "registry_spawnable_types")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		RPCRequests:        requests,
		RPCDurations:       durations,
		RegisteredEntities: entities,
		SpawnableTypes:     types,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observe(fullMethod, err, start)
		return resp, err
	}
}

// StreamServerInterceptor records one request and the stream lifetime for
// each server stream.
func (c *Collector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observe(fullMethod, err, start)
		return err
	}
}

func (c *Collector) observe(fullMethod string, err error, start time.Time) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	code := status.Code(err).String()

	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetRegistryCounts satisfies registry.MetricsRecorder so the registry can
// drive gauge values directly from its mutators.
func (c *Collector) SetRegistryCounts(entities, spawnableTypes int) {
	if c == nil {
		return
	}
	if c.RegisteredEntities != nil {
		c.RegisteredEntities.Set(float64(entities))
	}
	if c.SpawnableTypes != nil {
		c.SpawnableTypes.Set(float64(spawnableTypes))
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
