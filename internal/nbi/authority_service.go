package nbi

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/registry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

var _ AuthorityServer = (*AuthorityService)(nil)

// Snapshotter produces registry snapshots. *registry.Registry satisfies it.
type Snapshotter interface {
	Snapshot() registry.Snapshot
}

// AuthorityService receives intents from proxies and serves registry
// snapshots for their replicas.
type AuthorityService struct {
	queue protocol.Forwarder
	reg   Snapshotter
	log   logging.Logger
}

// NewAuthorityService wires the service to the authority's intent queue and
// registry.
func NewAuthorityService(queue protocol.Forwarder, reg Snapshotter, log logging.Logger) *AuthorityService {
	if log == nil {
		log = logging.Noop()
	}
	return &AuthorityService{queue: queue, reg: reg, log: log}
}

// ApplyIntent enqueues in and returns before it is applied.
func (s *AuthorityService) ApplyIntent(ctx context.Context, in *protocol.Intent) (*emptypb.Empty, error) {
	if s == nil || s.queue == nil {
		return nil, status.Error(codes.FailedPrecondition, "authority intent queue is not configured")
	}
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "intent is required")
	}
	ctx, span := startOperationSpan(ctx, "AuthorityService.ApplyIntent", in)
	defer span.End()

	if _, err := s.queue.Forward(ctx, *in); err != nil {
		return nil, ToStatusError(fmt.Errorf("enqueue intent %s: %w", in.ID, err))
	}
	logging.FromContext(ctx, s.log).Debug(ctx, "intent enqueued",
		logging.String("intent_id", in.ID), logging.String("origin", in.Origin))
	return &emptypb.Empty{}, nil
}

// Snapshot returns the current registry contents.
func (s *AuthorityService) Snapshot(ctx context.Context, _ *protocol.SnapshotRequest) (*protocol.RegistrySnapshot, error) {
	if s == nil || s.reg == nil {
		return nil, status.Error(codes.FailedPrecondition, "registry is not configured")
	}
	snap := s.reg.Snapshot()
	return SnapshotToWire(snap), nil
}

// SnapshotToWire converts a registry snapshot to its wire form.
func SnapshotToWire(snap registry.Snapshot) *protocol.RegistrySnapshot {
	out := &protocol.RegistrySnapshot{
		Epoch:          snap.Epoch,
		Revision:       snap.Revision,
		Entities:       make([]protocol.SnapshotEntity, 0, len(snap.Entities)),
		SpawnableTypes: append([]string(nil), snap.SpawnableTypes...),
	}
	for _, e := range snap.Entities {
		out.Entities = append(out.Entities, protocol.SnapshotEntity{
			Name:        e.Name,
			Tags:        append([]string(nil), e.Tags...),
			Position:    protocol.Vector3FromVec3(e.World.Position),
			Orientation: protocol.QuaternionFromQuat(e.World.Rotation),
		})
	}
	return out
}
