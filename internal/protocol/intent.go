package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IntentKind discriminates the payload carried by an Intent.
type IntentKind string

const (
	IntentSetEntityState IntentKind = "set_entity_state"
	IntentAttach         IntentKind = "attach"
	IntentSpawnEntity    IntentKind = "spawn_entity"
	IntentDeleteEntity   IntentKind = "delete_entity"
)

// Intent is a mutation a proxy asks the authority to commit. Exactly one
// payload field, selected by Kind, is set.
type Intent struct {
	ID     string     `json:"id"`
	Kind   IntentKind `json:"kind"`
	Origin string     `json:"origin,omitempty"`

	SetEntityState *SetEntityStateRequest `json:"set_entity_state,omitempty"`
	Attach         *AttachRequest         `json:"attach,omitempty"`
	SpawnEntity    *SpawnEntityRequest    `json:"spawn_entity,omitempty"`
	DeleteEntity   *DeleteEntityRequest   `json:"delete_entity,omitempty"`
}

// NewSetEntityStateIntent wraps req.
func NewSetEntityStateIntent(req SetEntityStateRequest) Intent {
	return Intent{ID: uuid.NewString(), Kind: IntentSetEntityState, SetEntityState: &req}
}

// NewAttachIntent wraps req.
func NewAttachIntent(req AttachRequest) Intent {
	return Intent{ID: uuid.NewString(), Kind: IntentAttach, Attach: &req}
}

// NewSpawnEntityIntent wraps req.
func NewSpawnEntityIntent(req SpawnEntityRequest) Intent {
	return Intent{ID: uuid.NewString(), Kind: IntentSpawnEntity, SpawnEntity: &req}
}

// NewDeleteEntityIntent wraps req.
func NewDeleteEntityIntent(req DeleteEntityRequest) Intent {
	return Intent{ID: uuid.NewString(), Kind: IntentDeleteEntity, DeleteEntity: &req}
}

// Validate checks that the payload matches Kind.
func (in Intent) Validate() error {
	var ok bool
	switch in.Kind {
	case IntentSetEntityState:
		ok = in.SetEntityState != nil
	case IntentAttach:
		ok = in.Attach != nil
	case IntentSpawnEntity:
		ok = in.SpawnEntity != nil
	case IntentDeleteEntity:
		ok = in.DeleteEntity != nil
	default:
		return fmt.Errorf("%w: unknown intent kind %q", ErrInvalidRequest, in.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: intent %s of kind %s has no payload", ErrInvalidRequest, in.ID, in.Kind)
	}
	return nil
}

// Target names the entity the intent mutates.
func (in Intent) Target() string {
	switch in.Kind {
	case IntentSetEntityState:
		if in.SetEntityState != nil {
			return in.SetEntityState.StateName
		}
	case IntentAttach:
		if in.Attach != nil {
			return in.Attach.Name2
		}
	case IntentSpawnEntity:
		if in.SpawnEntity != nil {
			return in.SpawnEntity.StateName
		}
	case IntentDeleteEntity:
		if in.DeleteEntity != nil {
			return in.DeleteEntity.Name
		}
	}
	return ""
}

// AcceptedAck acknowledges that an intent was queued for the authority. It
// says nothing about whether the intent will commit.
type AcceptedAck struct {
	IntentID   string
	AcceptedAt time.Time
}

// CommittedAck confirms that the authority applied an intent.
type CommittedAck struct {
	IntentID string
	Revision uint64
}

// Forwarder delivers intents to the authority without waiting for them to be
// applied. Forward must not block on the authority.
type Forwarder interface {
	Forward(ctx context.Context, in Intent) (AcceptedAck, error)
}

// Service is the typed, one-handler-per-operation entity-state surface.
// Validation failures are reported in the responses, never as errors.
type Service interface {
	GetEntityState(ctx context.Context, req *GetEntityStateRequest) *GetEntityStateResponse
	SetEntityState(ctx context.Context, req *SetEntityStateRequest) *SetEntityStateResponse
	// Attach toggles: calling it twice with the same names detaches again.
	// Callers must not retry it blindly after a timeout.
	Attach(ctx context.Context, req *AttachRequest) *AttachResponse
	SpawnEntity(ctx context.Context, req *SpawnEntityRequest) *SpawnEntityResponse
	SpawnEntities(ctx context.Context, req *SpawnEntitiesRequest) *SpawnEntitiesResponse
	DeleteEntity(ctx context.Context, req *DeleteEntityRequest) *DeleteEntityResponse
}
