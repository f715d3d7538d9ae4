package nbi

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a client connection speaking the entity-state JSON codec, with
// tracing and request-id propagation installed. Extra options are appended.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}
	cc, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return cc, nil
}

// StateClient is a typed client for entitystate.v1.SimulationState.
type StateClient struct {
	cc grpc.ClientConnInterface
}

// NewStateClient wraps cc, which should come from Dial.
func NewStateClient(cc grpc.ClientConnInterface) *StateClient {
	return &StateClient{cc: cc}
}

func (c *StateClient) GetEntityState(ctx context.Context, req *protocol.GetEntityStateRequest, opts ...grpc.CallOption) (*protocol.GetEntityStateResponse, error) {
	out := new(protocol.GetEntityStateResponse)
	if err := c.cc.Invoke(ctx, stateMethod(protocol.ServiceGetEntityState), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StateClient) SetEntityState(ctx context.Context, req *protocol.SetEntityStateRequest, opts ...grpc.CallOption) (*protocol.SetEntityStateResponse, error) {
	out := new(protocol.SetEntityStateResponse)
	if err := c.cc.Invoke(ctx, stateMethod(protocol.ServiceSetEntityState), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Attach toggles an attachment. Do not retry it blindly: a lost response
// followed by a retry detaches again.
func (c *StateClient) Attach(ctx context.Context, req *protocol.AttachRequest, opts ...grpc.CallOption) (*protocol.AttachResponse, error) {
	out := new(protocol.AttachResponse)
	if err := c.cc.Invoke(ctx, stateMethod(protocol.ServiceAttach), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StateClient) SpawnEntity(ctx context.Context, req *protocol.SpawnEntityRequest, opts ...grpc.CallOption) (*protocol.SpawnEntityResponse, error) {
	out := new(protocol.SpawnEntityResponse)
	if err := c.cc.Invoke(ctx, stateMethod(protocol.ServiceSpawnEntity), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StateClient) SpawnEntities(ctx context.Context, req *protocol.SpawnEntitiesRequest, opts ...grpc.CallOption) (*protocol.SpawnEntitiesResponse, error) {
	out := new(protocol.SpawnEntitiesResponse)
	if err := c.cc.Invoke(ctx, stateMethod(protocol.ServiceSpawnEntities), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StateClient) DeleteEntity(ctx context.Context, req *protocol.DeleteEntityRequest, opts ...grpc.CallOption) (*protocol.DeleteEntityResponse, error) {
	out := new(protocol.DeleteEntityResponse)
	if err := c.cc.Invoke(ctx, stateMethod(protocol.ServiceDeleteEntity), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EntityStatesStream is the client side of StreamEntityStates.
type EntityStatesStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next batch.
func (s *EntityStatesStream) Recv() (*protocol.EntityStates, error) {
	m := new(protocol.EntityStates)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamEntityStates opens a state stream. Cancel ctx to close it.
func (c *StateClient) StreamEntityStates(ctx context.Context, req *protocol.StreamEntityStatesRequest, opts ...grpc.CallOption) (*EntityStatesStream, error) {
	stream, err := c.cc.NewStream(ctx, &SimulationStateServiceDesc.Streams[0], stateMethod(methodStreamEntityStates), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EntityStatesStream{stream: stream}, nil
}

// EntityStateGetter is the subset of StateClient WaitForEntity needs.
type EntityStateGetter interface {
	GetEntityState(ctx context.Context, req *protocol.GetEntityStateRequest, opts ...grpc.CallOption) (*protocol.GetEntityStateResponse, error)
}

// WaitForEntity polls GetEntityState until name resolves or ctx expires.
// Use it after a proxy accepts a spawn: acceptance does not mean the entity
// exists yet.
func WaitForEntity(ctx context.Context, c EntityStateGetter, name string, interval time.Duration) (*protocol.GetEntityStateResponse, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	req := &protocol.GetEntityStateRequest{Name: name}
	var last string
	for {
		resp, err := c.GetEntityState(ctx, req)
		if err == nil && resp.Success {
			return resp, nil
		}
		if err != nil {
			last = err.Error()
		} else {
			last = resp.StatusMessage
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for entity %q: %w (last: %s)", name, ctx.Err(), last)
		case <-ticker.C:
		}
	}
}
