package nbi

import (
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// NewServer returns a gRPC server with the standard interceptor chain:
// request IDs, tracing spans and, when collector is non-nil, RPC metrics.
func NewServer(log logging.Logger, collector *observability.Collector, opts ...grpc.ServerOption) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	stream := []grpc.StreamServerInterceptor{
		RequestIDStreamServerInterceptor(log),
		TracingStreamServerInterceptor(),
	}
	if collector != nil {
		unary = append(unary, collector.UnaryServerInterceptor())
		stream = append(stream, collector.StreamServerInterceptor())
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// Shutdown stops srv gracefully, forcing a hard stop after timeout. Open
// entity-state streams otherwise hold GracefulStop indefinitely.
func Shutdown(srv *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		srv.Stop()
		<-done
	}
}
