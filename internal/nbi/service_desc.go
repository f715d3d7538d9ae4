package nbi

import (
	"context"

	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Fully-qualified gRPC service names.
const (
	SimulationStateServiceName = "entitystate.v1.SimulationState"
	AuthorityServiceName       = "entitystate.v1.Authority"

	methodStreamEntityStates = "StreamEntityStates"
	methodApplyIntent        = "ApplyIntent"
	methodSnapshot           = "Snapshot"
)

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// SimulationStateServer is the server API for entitystate.v1.SimulationState.
type SimulationStateServer interface {
	GetEntityState(context.Context, *protocol.GetEntityStateRequest) (*protocol.GetEntityStateResponse, error)
	SetEntityState(context.Context, *protocol.SetEntityStateRequest) (*protocol.SetEntityStateResponse, error)
	Attach(context.Context, *protocol.AttachRequest) (*protocol.AttachResponse, error)
	SpawnEntity(context.Context, *protocol.SpawnEntityRequest) (*protocol.SpawnEntityResponse, error)
	SpawnEntities(context.Context, *protocol.SpawnEntitiesRequest) (*protocol.SpawnEntitiesResponse, error)
	DeleteEntity(context.Context, *protocol.DeleteEntityRequest) (*protocol.DeleteEntityResponse, error)
	StreamEntityStates(*protocol.StreamEntityStatesRequest, EntityStatesSender) error
}

// EntityStatesSender is the server side of a StreamEntityStates call.
type EntityStatesSender interface {
	Send(*protocol.EntityStates) error
	Context() context.Context
}

// AuthorityServer is the server API for entitystate.v1.Authority.
type AuthorityServer interface {
	ApplyIntent(context.Context, *protocol.Intent) (*emptypb.Empty, error)
	Snapshot(context.Context, *protocol.SnapshotRequest) (*protocol.RegistrySnapshot, error)
}

// unaryHandler adapts a typed call into a grpc.MethodHandler, running the
// server's unary interceptor chain when one is installed.
func unaryHandler[Req any, Resp any, Srv any](method string, call func(Srv, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Srv), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(Srv), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type entityStatesServerStream struct {
	grpc.ServerStream
}

func (s *entityStatesServerStream) Send(m *protocol.EntityStates) error {
	return s.ServerStream.SendMsg(m)
}

func streamEntityStatesHandler(srv any, stream grpc.ServerStream) error {
	in := new(protocol.StreamEntityStatesRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SimulationStateServer).StreamEntityStates(in, &entityStatesServerStream{stream})
}

func stateMethod(m string) string { return fullMethod(SimulationStateServiceName, m) }

// SimulationStateServiceDesc describes entitystate.v1.SimulationState.
var SimulationStateServiceDesc = grpc.ServiceDesc{
	ServiceName: SimulationStateServiceName,
	HandlerType: (*SimulationStateServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: protocol.ServiceGetEntityState,
			Handler:    unaryHandler(stateMethod(protocol.ServiceGetEntityState), SimulationStateServer.GetEntityState),
		},
		{
			MethodName: protocol.ServiceSetEntityState,
			Handler:    unaryHandler(stateMethod(protocol.ServiceSetEntityState), SimulationStateServer.SetEntityState),
		},
		{
			MethodName: protocol.ServiceAttach,
			Handler:    unaryHandler(stateMethod(protocol.ServiceAttach), SimulationStateServer.Attach),
		},
		{
			MethodName: protocol.ServiceSpawnEntity,
			Handler:    unaryHandler(stateMethod(protocol.ServiceSpawnEntity), SimulationStateServer.SpawnEntity),
		},
		{
			MethodName: protocol.ServiceSpawnEntities,
			Handler:    unaryHandler(stateMethod(protocol.ServiceSpawnEntities), SimulationStateServer.SpawnEntities),
		},
		{
			MethodName: protocol.ServiceDeleteEntity,
			Handler:    unaryHandler(stateMethod(protocol.ServiceDeleteEntity), SimulationStateServer.DeleteEntity),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    methodStreamEntityStates,
			Handler:       streamEntityStatesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "entitystate/v1/simulation_state",
}

// AuthorityServiceDesc describes entitystate.v1.Authority.
var AuthorityServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthorityServiceName,
	HandlerType: (*AuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodApplyIntent,
			Handler:    unaryHandler(fullMethod(AuthorityServiceName, methodApplyIntent), AuthorityServer.ApplyIntent),
		},
		{
			MethodName: methodSnapshot,
			Handler:    unaryHandler(fullMethod(AuthorityServiceName, methodSnapshot), AuthorityServer.Snapshot),
		},
	},
	Metadata: "entitystate/v1/authority",
}

// RegisterSimulationStateServer registers srv on s.
func RegisterSimulationStateServer(s grpc.ServiceRegistrar, srv SimulationStateServer) {
	s.RegisterService(&SimulationStateServiceDesc, srv)
}

// RegisterAuthorityServer registers srv on s.
func RegisterAuthorityServer(s grpc.ServiceRegistrar, srv AuthorityServer) {
	s.RegisterService(&AuthorityServiceDesc, srv)
}
