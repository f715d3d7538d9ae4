package nbi

import (
	"context"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/publisher"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ SimulationStateServer = (*StateService)(nil)

// StateService implements the SimulationState gRPC server on top of any
// protocol.Service: the authority itself, or a proxy.
type StateService struct {
	svc protocol.Service
	pub *publisher.Publisher
	log logging.Logger

	streamBuffer int
}

// StateServiceOption customises StateService construction.
type StateServiceOption func(*StateService)

// WithPublisher enables StreamEntityStates backed by pub.
func WithPublisher(pub *publisher.Publisher) StateServiceOption {
	return func(s *StateService) {
		s.pub = pub
	}
}

// NewStateService constructs a StateService bound to svc.
func NewStateService(svc protocol.Service, log logging.Logger, opts ...StateServiceOption) *StateService {
	if log == nil {
		log = logging.Noop()
	}
	s := &StateService{svc: svc, log: log, streamBuffer: 8}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetEntityState returns the pose of an entity relative to a frame.
func (s *StateService) GetEntityState(ctx context.Context, req *protocol.GetEntityStateRequest) (*protocol.GetEntityStateResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	ctx, span := startOperationSpan(ctx, "StateService.GetEntityState", req)
	defer span.End()
	return s.svc.GetEntityState(ctx, req), nil
}

// SetEntityState moves an entity.
func (s *StateService) SetEntityState(ctx context.Context, req *protocol.SetEntityStateRequest) (*protocol.SetEntityStateResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	ctx, span := startOperationSpan(ctx, "StateService.SetEntityState", req)
	defer span.End()
	resp := s.svc.SetEntityState(ctx, req)
	s.logOutcome(ctx, protocol.ServiceSetEntityState, req.StateName, resp.Success, resp.StatusMessage)
	return resp, nil
}

// Attach toggles an attachment. Retrying after a lost response may undo it.
func (s *StateService) Attach(ctx context.Context, req *protocol.AttachRequest) (*protocol.AttachResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	ctx, span := startOperationSpan(ctx, "StateService.Attach", req)
	defer span.End()
	resp := s.svc.Attach(ctx, req)
	s.logOutcome(ctx, protocol.ServiceAttach, req.Name2, resp.Success, resp.StatusMessage)
	return resp, nil
}

// SpawnEntity instantiates one entity.
func (s *StateService) SpawnEntity(ctx context.Context, req *protocol.SpawnEntityRequest) (*protocol.SpawnEntityResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	ctx, span := startOperationSpan(ctx, "StateService.SpawnEntity", req)
	defer span.End()
	resp := s.svc.SpawnEntity(ctx, req)
	s.logOutcome(ctx, protocol.ServiceSpawnEntity, req.StateName, resp.Success, resp.StatusMessage)
	return resp, nil
}

// SpawnEntities instantiates a batch.
func (s *StateService) SpawnEntities(ctx context.Context, req *protocol.SpawnEntitiesRequest) (*protocol.SpawnEntitiesResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	ctx, span := startOperationSpan(ctx, "StateService.SpawnEntities", req)
	defer span.End()
	resp := s.svc.SpawnEntities(ctx, req)
	s.logOutcome(ctx, protocol.ServiceSpawnEntities, "", resp.Success, resp.StatusMessage)
	return resp, nil
}

// DeleteEntity destroys an entity.
func (s *StateService) DeleteEntity(ctx context.Context, req *protocol.DeleteEntityRequest) (*protocol.DeleteEntityResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	ctx, span := startOperationSpan(ctx, "StateService.DeleteEntity", req)
	defer span.End()
	resp := s.svc.DeleteEntity(ctx, req)
	s.logOutcome(ctx, protocol.ServiceDeleteEntity, req.Name, resp.Success, resp.StatusMessage)
	return resp, nil
}

// StreamEntityStates sends one batch per simulation tick until the client
// goes away.
func (s *StateService) StreamEntityStates(req *protocol.StreamEntityStatesRequest, stream EntityStatesSender) error {
	if s == nil || s.pub == nil {
		return status.Error(codes.Unimplemented, "state streaming is not enabled on this server")
	}
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	ctx := stream.Context()
	sub, cancel := s.pub.Subscribe(req.Names, req.ReferenceFrame, s.streamBuffer)
	defer cancel()

	log := logging.FromContext(ctx, s.log)
	log.Info(ctx, "state stream opened",
		logging.Strings("names", req.Names), logging.String("reference_frame", req.ReferenceFrame))
	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "state stream closed")
			return nil
		case batch, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := stream.Send(&batch); err != nil {
				return err
			}
		}
	}
}

func (s *StateService) logOutcome(ctx context.Context, op, entity string, ok bool, msg string) {
	log := logging.FromContext(ctx, s.log).With(logging.String("operation", op), logging.String("entity", entity))
	if ok {
		log.Debug(ctx, "request handled", logging.String("status_message", msg))
		return
	}
	log.Info(ctx, "request refused", logging.String("status_message", msg))
}

func (s *StateService) ensureReady() error {
	if s == nil || s.svc == nil {
		return status.Error(codes.FailedPrecondition, "entity-state service is not configured")
	}
	return nil
}
