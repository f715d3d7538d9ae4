// Package world defines the entity-host port the registry and authority use to
// manipulate simulation objects, plus an in-memory Scene that implements it.
package world

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/signalsfoundry/entity-state-sim/core"
)

var (
	// ErrHandleInvalid indicates the handle no longer refers to a live object.
	ErrHandleInvalid = errors.New("handle is not live")
	// ErrPrototypeNotFound indicates a spawn referenced an unknown prototype.
	ErrPrototypeNotFound = errors.New("prototype not found")
	// ErrAttachCycle indicates an attach would make an object its own ancestor.
	ErrAttachCycle = errors.New("attach would create a cycle")
)

// Handle is an opaque, non-owning reference to a host object. The zero value
// never refers to a live object.
type Handle uint64

// Prototype is an opaque reference to a spawnable template.
type Prototype uint64

// SpawnParams is the auxiliary metadata recorded on a spawned object.
type SpawnParams struct {
	TypeName     string
	Namespace    string
	Tags         []string
	TwistLinear  mgl64.Vec3
	TwistAngular mgl64.Vec3
}

// EntityInfo describes a host object found by Entities.
type EntityInfo struct {
	Name   string
	Handle Handle
	Tags   []string
}

// Host is the entity-host runtime. Implementations own the objects behind the
// handles; callers hold handles only.
type Host interface {
	// Alive reports whether h still refers to a live object.
	Alive(h Handle) bool
	// PrototypeAlive reports whether p can still be instantiated.
	PrototypeAlive(p Prototype) bool

	Instantiate(p Prototype, name string, at core.Transform, params SpawnParams) (Handle, error)
	Destroy(h Handle) error

	WorldTransform(h Handle) (core.Transform, error)
	SetWorldTransform(h Handle, t core.Transform) error

	// AttachTo parents child under parent keeping child's world pose.
	AttachTo(child, parent Handle) error
	// Detach clears child's parent keeping its world pose.
	Detach(child Handle) error
	IsAttachedTo(child, parent Handle) bool

	// Entities lists the live objects present in the world.
	Entities() []EntityInfo
	// Prototypes lists the spawnable templates keyed by type name.
	Prototypes() map[string]Prototype
}
