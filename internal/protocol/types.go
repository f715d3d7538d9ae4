// Package protocol defines the entity-state request/response schemas, their
// error taxonomy, and the intents a proxy forwards to the authority.
//
// All poses crossing this package's types are in the external (ROS)
// convention; handlers convert exactly once on the way in and once on the way
// out.
package protocol

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/signalsfoundry/entity-state-sim/core"
)

// Service names, used as RPC method names.
const (
	ServiceGetEntityState = "GetEntityState"
	ServiceSetEntityState = "SetEntityState"
	ServiceAttach         = "Attach"
	ServiceSpawnEntity    = "SpawnEntity"
	ServiceSpawnEntities  = "SpawnEntities"
	ServiceDeleteEntity   = "DeleteEntity"
)

// Vector3 is a wire vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is a wire orientation. The zero value is treated as identity.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuaternion is the no-rotation orientation.
var IdentityQuaternion = Quaternion{W: 1}

// Pose is a wire position plus orientation.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Twist is a wire linear/angular velocity pair.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// Transform converts p to a core.Transform without changing convention.
func (p Pose) Transform() core.Transform {
	return core.NewTransform(p.Position.Vec3(), p.Orientation.Quat())
}

// PoseFromTransform converts t to a wire pose without changing convention.
func PoseFromTransform(t core.Transform) Pose {
	return Pose{
		Position:    Vector3FromVec3(t.Position),
		Orientation: QuaternionFromQuat(t.Rotation),
	}
}

// Vec3 converts v to mgl64.
func (v Vector3) Vec3() mgl64.Vec3 { return mgl64.Vec3{v.X, v.Y, v.Z} }

// Vector3FromVec3 converts an mgl64 vector.
func Vector3FromVec3(v mgl64.Vec3) Vector3 { return Vector3{X: v.X(), Y: v.Y(), Z: v.Z()} }

// Quat converts q to mgl64.
func (q Quaternion) Quat() mgl64.Quat { return mgl64.Quat{W: q.W, V: mgl64.Vec3{q.X, q.Y, q.Z}} }

// QuaternionFromQuat converts an mgl64 quaternion.
func QuaternionFromQuat(q mgl64.Quat) Quaternion {
	return Quaternion{X: q.V.X(), Y: q.V.Y(), Z: q.V.Z(), W: q.W}
}

// Disposition tells a caller how far a request got.
type Disposition string

const (
	// Committed means the authority applied the change before responding.
	Committed Disposition = "committed"
	// Accepted means the request passed local validation and was forwarded to
	// the authority; the change may not be visible yet.
	Accepted Disposition = "accepted"
	// Rejected means validation failed and nothing was forwarded or applied.
	Rejected Disposition = "rejected"
)

type GetEntityStateRequest struct {
	Name           string `json:"name"`
	ReferenceFrame string `json:"reference_frame"`
}

type GetEntityStateResponse struct {
	StateName     string  `json:"state_name"`
	Success       bool    `json:"success"`
	Pose          Pose    `json:"pose"`
	TwistLinear   Vector3 `json:"twist_linear"`
	TwistAngular  Vector3 `json:"twist_angular"`
	StatusMessage string  `json:"status_message,omitempty"`
}

type SetEntityStateRequest struct {
	StateName           string `json:"state_name"`
	StateReferenceFrame string `json:"state_reference_frame"`
	Pose                Pose   `json:"pose"`
}

type SetEntityStateResponse struct {
	Success       bool        `json:"success"`
	Disposition   Disposition `json:"disposition"`
	StatusMessage string      `json:"status_message,omitempty"`
}

// AttachRequest toggles the attachment of Name2 under Name1.
type AttachRequest struct {
	Name1 string `json:"name1"`
	Name2 string `json:"name2"`
}

// AttachResponse reports the toggle outcome. Attached is only meaningful for
// a committed disposition; an accepted toggle has not been resolved yet.
type AttachResponse struct {
	Success       bool        `json:"success"`
	Disposition   Disposition `json:"disposition"`
	Attached      bool        `json:"attached,omitempty"`
	StatusMessage string      `json:"status_message,omitempty"`
}

// SpawnEntityRequest spawns an instance of the spawnable type named by Xml.
type SpawnEntityRequest struct {
	Xml                 string   `json:"xml"`
	RobotNamespace      string   `json:"robot_namespace,omitempty"`
	StateName           string   `json:"state_name"`
	StateReferenceFrame string   `json:"state_reference_frame"`
	Pose                Pose     `json:"pose"`
	Twist               Twist    `json:"twist"`
	Tags                []string `json:"tags,omitempty"`
}

type SpawnEntityResponse struct {
	Success       bool        `json:"success"`
	Disposition   Disposition `json:"disposition"`
	StatusMessage string      `json:"status_message"`
}

// SpawnEntitiesRequest is the batch spawn; all lists are parallel and indexed
// by entity. TagsList carries one tag per entity (empty for none).
type SpawnEntitiesRequest struct {
	TypeList           []string     `json:"type_list"`
	NameList           []string     `json:"name_list"`
	PositionList       []Vector3    `json:"position_list"`
	OrientationList    []Quaternion `json:"orientation_list"`
	TwistLinearList    []Vector3    `json:"twist_linear_list"`
	TwistAngularList   []Vector3    `json:"twist_angular_list"`
	ReferenceFrameList []string     `json:"reference_frame_list"`
	TagsList           []string     `json:"tags_list"`
}

type SpawnEntitiesResponse struct {
	Success       bool        `json:"success"`
	Disposition   Disposition `json:"disposition"`
	StatusMessage string      `json:"status_message"`
}

type DeleteEntityRequest struct {
	Name string `json:"name"`
}

type DeleteEntityResponse struct {
	Success       bool        `json:"success"`
	Disposition   Disposition `json:"disposition"`
	StatusMessage string      `json:"status_message"`
}
