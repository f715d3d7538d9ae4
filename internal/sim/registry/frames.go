package registry

import (
	"github.com/signalsfoundry/entity-state-sim/core"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
)

// FrameView is the read side needed to answer pose queries. *Registry
// satisfies it, as does a replicated view of a remote registry.
type FrameView interface {
	CheckEntity(name string, allowEmptyAsWorld bool) bool
	WorldTransform(name string) (core.Transform, error)
	ResolveFrame(frame string) (core.Transform, error)
}

// ExternalPose returns the pose of name relative to frame in external
// convention.
func ExternalPose(v FrameView, name, frame string) (protocol.Pose, error) {
	if !v.CheckEntity(name, false) {
		return protocol.Pose{}, protocol.UnknownEntity(name)
	}
	if !v.CheckEntity(frame, true) {
		return protocol.Pose{}, protocol.UnknownReferenceFrame(frame)
	}
	worldT, err := v.WorldTransform(name)
	if err != nil {
		return protocol.Pose{}, err
	}
	refT, err := v.ResolveFrame(frame)
	if err != nil {
		return protocol.Pose{}, err
	}
	return protocol.PoseFromTransform(core.InternalToExternal(core.ToRelative(worldT, refT))), nil
}
