package nbi

import (
	"context"
	"errors"

	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrOutboxClosed is returned by AuthorityClient.Forward after Close.
	ErrOutboxClosed = errors.New("authority outbox closed")
	// ErrNotReady is returned by a Replica that has never loaded a snapshot.
	ErrNotReady = errors.New("replica has no snapshot yet")
)

// ToStatusError maps entity-state errors onto gRPC status codes. Validation
// failures normally travel inside responses; this covers the transport-level
// paths (intent delivery, snapshots, streaming).
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, protocol.ErrUnknownEntity),
		errors.Is(err, protocol.ErrMissingTarget),
		errors.Is(err, protocol.ErrUnknownReferenceFrame),
		errors.Is(err, protocol.ErrUnknownSpawnableType):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, protocol.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, protocol.ErrNameCollision):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, ErrOutboxClosed),
		errors.Is(err, ErrNotReady):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
