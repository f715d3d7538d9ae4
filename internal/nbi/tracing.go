package nbi

import (
	"context"
	"strings"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/observability"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

const tracerName = "github.com/signalsfoundry/entity-state-sim/internal/nbi"

// Span attribute keys for entity-state RPCs.
const (
	attrEntity         = attribute.Key("entity.name")
	attrEntityType     = attribute.Key("entity.type")
	attrParent         = attribute.Key("entity.parent")
	attrReferenceFrame = attribute.Key("entity.reference_frame")
	attrBatchSize      = attribute.Key("entity.batch_size")
	attrStreamNames    = attribute.Key("stream.names")
	attrStreamBatches  = attribute.Key("stream.batches_sent")
	attrIntentID       = attribute.Key("intent.id")
	attrIntentKind     = attribute.Key("intent.kind")
	attrIntentOrigin   = attribute.Key("intent.origin")
	attrSuccess        = attribute.Key("outcome.success")
	attrDisposition    = attribute.Key("outcome.disposition")
)

// TracingUnaryServerInterceptor names the RPC span, tags it with the target
// entity and frame of the request, and records the outcome of the response.
// It starts a server span when no stats handler has.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span, end := startRPCSpan(ctx, info.FullMethod)
		defer end()
		span.SetAttributes(requestAttributes(req)...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			return resp, err
		}
		span.SetAttributes(responseAttributes(resp)...)
		return resp, nil
	}
}

// TracingStreamServerInterceptor does the same for StreamEntityStates. The
// subscription is read from the first received message and the number of
// batches sent is set when the stream ends.
func TracingStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span, end := startRPCSpan(ss.Context(), info.FullMethod)
		defer end()

		traced := &tracedServerStream{ServerStream: ss, ctx: ctx, span: span}
		err := handler(srv, traced)
		span.SetAttributes(attrStreamBatches.Int(traced.sent))
		if err != nil {
			span.RecordError(err)
		}
		return err
	}
}

type tracedServerStream struct {
	grpc.ServerStream
	ctx  context.Context
	span trace.Span
	sent int
}

func (s *tracedServerStream) Context() context.Context { return s.ctx }

func (s *tracedServerStream) RecvMsg(m interface{}) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.span.SetAttributes(requestAttributes(m)...)
	}
	return err
}

func (s *tracedServerStream) SendMsg(m interface{}) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.sent++
	}
	return err
}

// startRPCSpan reuses the stats-handler span when there is one. The returned
// end func only ends a span started here.
func startRPCSpan(ctx context.Context, fullMethod string) (context.Context, trace.Span, func()) {
	service, method := observability.SplitMethod(fullMethod)
	name := "EntityState/" + service + "/" + method

	span := trace.SpanFromContext(ctx)
	end := func() {}
	if span.SpanContext().IsValid() {
		span.SetName(name)
	} else {
		ctx, span = otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		started := span
		end = func() { started.End() }
	}

	span.SetAttributes(
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
		attribute.String("rpc.full_method", strings.TrimPrefix(fullMethod, "/")),
	)
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		span.SetAttributes(attribute.String("request_id", reqID))
	}
	return ctx, span, end
}

// startOperationSpan starts a child span for the service call behind an RPC.
func startOperationSpan(ctx context.Context, name string, req interface{}) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(requestAttributes(req)...))
}

// requestAttributes describes what a request targets. The world frame is
// recorded as an empty reference frame.
func requestAttributes(req interface{}) []attribute.KeyValue {
	switch r := req.(type) {
	case *protocol.GetEntityStateRequest:
		if r != nil {
			return []attribute.KeyValue{attrEntity.String(r.Name), attrReferenceFrame.String(r.ReferenceFrame)}
		}
	case *protocol.SetEntityStateRequest:
		if r != nil {
			return []attribute.KeyValue{attrEntity.String(r.StateName), attrReferenceFrame.String(r.StateReferenceFrame)}
		}
	case *protocol.AttachRequest:
		if r != nil {
			return []attribute.KeyValue{attrParent.String(r.Name1), attrEntity.String(r.Name2)}
		}
	case *protocol.SpawnEntityRequest:
		if r != nil {
			return []attribute.KeyValue{
				attrEntity.String(r.StateName),
				attrEntityType.String(r.Xml),
				attrReferenceFrame.String(r.StateReferenceFrame),
			}
		}
	case *protocol.SpawnEntitiesRequest:
		if r != nil {
			return []attribute.KeyValue{attrBatchSize.Int(len(r.NameList))}
		}
	case *protocol.DeleteEntityRequest:
		if r != nil {
			return []attribute.KeyValue{attrEntity.String(r.Name)}
		}
	case *protocol.Intent:
		if r != nil {
			return []attribute.KeyValue{
				attrIntentID.String(r.ID),
				attrIntentKind.String(string(r.Kind)),
				attrIntentOrigin.String(r.Origin),
				attrEntity.String(r.Target()),
			}
		}
	case *protocol.StreamEntityStatesRequest:
		if r != nil {
			return []attribute.KeyValue{attrReferenceFrame.String(r.ReferenceFrame), attrStreamNames.Int(len(r.Names))}
		}
	}
	return nil
}

func responseAttributes(resp interface{}) []attribute.KeyValue {
	outcome := func(success bool, d protocol.Disposition) []attribute.KeyValue {
		return []attribute.KeyValue{attrSuccess.Bool(success), attrDisposition.String(string(d))}
	}
	switch r := resp.(type) {
	case *protocol.GetEntityStateResponse:
		if r != nil {
			return []attribute.KeyValue{attrSuccess.Bool(r.Success)}
		}
	case *protocol.SetEntityStateResponse:
		if r != nil {
			return outcome(r.Success, r.Disposition)
		}
	case *protocol.AttachResponse:
		if r != nil {
			return outcome(r.Success, r.Disposition)
		}
	case *protocol.SpawnEntityResponse:
		if r != nil {
			return outcome(r.Success, r.Disposition)
		}
	case *protocol.SpawnEntitiesResponse:
		if r != nil {
			return outcome(r.Success, r.Disposition)
		}
	case *protocol.DeleteEntityResponse:
		if r != nil {
			return outcome(r.Success, r.Disposition)
		}
	}
	return nil
}
