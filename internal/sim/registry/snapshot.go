package registry

import (
	"sort"

	"github.com/signalsfoundry/entity-state-sim/core"
)

// EntityState is one entity in a Snapshot, with its world transform as read
// at snapshot time.
type EntityState struct {
	Name  string
	Tags  []string
	World core.Transform
}

// Snapshot captures a consistent-enough view of the registry for replication.
// Transforms are read after the name set is copied, so an entity destroyed in
// between is simply omitted. Revision is the one the name set was copied at,
// never newer than the contents.
type Snapshot struct {
	Epoch          string
	Revision       uint64
	Entities       []EntityState
	SpawnableTypes []string
}

// Snapshot copies the registry. Stale entries encountered while reading
// transforms are evicted as a side effect.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	revision := r.revision
	entities := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	types := make([]string, 0, len(r.spawnable))
	for name := range r.spawnable {
		types = append(types, name)
	}
	r.mu.RUnlock()

	snap := Snapshot{
		Epoch:    r.epoch,
		Revision: revision,
		Entities: make([]EntityState, 0, len(entities)),
	}
	for _, e := range entities {
		t, err := r.WorldTransform(e.Name)
		if err != nil {
			continue
		}
		snap.Entities = append(snap.Entities, EntityState{
			Name:  e.Name,
			Tags:  append([]string(nil), e.Tags...),
			World: t,
		})
	}
	for _, name := range types {
		if r.CheckSpawnableType(name, false) {
			snap.SpawnableTypes = append(snap.SpawnableTypes, name)
		}
	}
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].Name < snap.Entities[j].Name })
	sort.Strings(snap.SpawnableTypes)
	return snap
}
