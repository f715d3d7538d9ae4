package protocol

import "time"

// StreamEntityStatesRequest subscribes to periodic state samples. An empty
// Names list means every registered entity.
type StreamEntityStatesRequest struct {
	Names          []string `json:"names"`
	ReferenceFrame string   `json:"reference_frame"`
}

// EntityState is one sampled entity. Linear twist is the finite difference of
// successive samples; angular twist is not tracked and is always zero.
type EntityState struct {
	Name         string  `json:"name"`
	Pose         Pose    `json:"pose"`
	TwistLinear  Vector3 `json:"twist_linear"`
	TwistAngular Vector3 `json:"twist_angular"`
}

// EntityStates is one tick's worth of samples for a subscription.
type EntityStates struct {
	SimTime time.Time     `json:"sim_time"`
	States  []EntityState `json:"states"`
}

// SnapshotRequest asks the authority for a copy of its registry.
type SnapshotRequest struct{}

// SnapshotEntity is one entity in a RegistrySnapshot. Position and
// Orientation are the world transform in the internal engine convention, so
// a replica can resolve frames without converting twice.
type SnapshotEntity struct {
	Name        string     `json:"name"`
	Tags        []string   `json:"tags,omitempty"`
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// RegistrySnapshot is the replicated form of the authority's registry.
// Revisions are only comparable between snapshots with the same Epoch.
type RegistrySnapshot struct {
	Epoch          string           `json:"epoch"`
	Revision       uint64           `json:"revision"`
	Entities       []SnapshotEntity `json:"entities"`
	SpawnableTypes []string         `json:"spawnable_types"`
}
