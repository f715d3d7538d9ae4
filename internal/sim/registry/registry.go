// Package registry holds the authoritative mapping of entity names to host
// handles, the tag index, and the spawnable-type table.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/signalsfoundry/entity-state-sim/core"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/world"
)

// Entity is one registered simulation object. Its world transform is never
// cached; read it through the registry or the host.
type Entity struct {
	Name   string
	Handle world.Handle
	Tags   []string
}

// Liveness is the subset of world.Host the registry needs.
type Liveness interface {
	Alive(h world.Handle) bool
	PrototypeAlive(p world.Prototype) bool
	WorldTransform(h world.Handle) (core.Transform, error)
}

// MetricsRecorder receives count updates whenever the registry changes.
type MetricsRecorder interface {
	SetRegistryCounts(entities, spawnableTypes int)
}

// Option customises Registry construction.
type Option func(*Registry)

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry is the authoritative entity table. Mutations are serialised by mu;
// reads take the read lock. A Registry is owned by a single authority and
// injected into whatever needs it.
type Registry struct {
	mu sync.RWMutex

	host Liveness

	entities map[string]Entity
	// tagIndex maps tag -> set of entity names. Names are pruned on removal
	// and on re-registration.
	tagIndex map[string]map[string]struct{}
	// spawnable is populated at setup and read-only afterwards, except for
	// lazy eviction of dead prototypes.
	spawnable map[string]world.Prototype

	// epoch identifies this registry instance; revisions only compare within
	// one epoch.
	epoch    string
	revision uint64

	log     logging.Logger
	metrics MetricsRecorder
}

// New constructs an empty registry backed by host for liveness checks. It
// panics if host is nil.
func New(host Liveness, log logging.Logger, opts ...Option) *Registry {
	if host == nil {
		panic("registry: nil host")
	}
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{
		host:      host,
		epoch:     uuid.NewString(),
		entities:  make(map[string]Entity),
		tagIndex:  make(map[string]map[string]struct{}),
		spawnable: make(map[string]world.Prototype),
		log:       log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.updateMetricsLocked()
	return r
}

// Scanner lists pre-existing host objects and spawnable prototypes.
type Scanner interface {
	Entities() []world.EntityInfo
	Prototypes() map[string]world.Prototype
}

// Populate registers every live object and prototype the host reports. It is
// called once at session start.
func (r *Registry) Populate(ctx context.Context, host Scanner) int {
	infos := host.Entities()
	for _, info := range infos {
		r.AddEntity(Entity{Name: info.Name, Handle: info.Handle, Tags: info.Tags})
	}
	r.AddSpawnableTypes(host.Prototypes())
	r.log.Info(ctx, "registry populated from world",
		logging.Int("entities", len(infos)),
		logging.Int("spawnable_types", r.SpawnableTypeCount()),
	)
	return len(infos)
}

// AddEntity inserts or overwrites the entry for e.Name (last write wins) and
// indexes its tags. Tags of an overwritten entry are dropped from the index.
func (r *Registry) AddEntity(e Entity) {
	e.Tags = append([]string(nil), e.Tags...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entities[e.Name]; ok {
		r.unindexLocked(old)
	}
	r.entities[e.Name] = e
	for _, tag := range e.Tags {
		set, ok := r.tagIndex[tag]
		if !ok {
			set = make(map[string]struct{})
			r.tagIndex[tag] = set
		}
		set[e.Name] = struct{}{}
	}
	r.revision++
	r.updateMetricsLocked()
}

// AddSpawnableTypes merges types into the spawnable table.
func (r *Registry) AddSpawnableTypes(types map[string]world.Prototype) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range types {
		r.spawnable[name] = p
	}
	r.revision++
	r.updateMetricsLocked()
}

// CheckEntity reports whether name is usable. An empty name is accepted only
// when allowEmptyAsWorld is set (the world frame). A registered name whose
// handle is no longer live is evicted and reported as absent.
func (r *Registry) CheckEntity(name string, allowEmptyAsWorld bool) bool {
	if name == "" && allowEmptyAsWorld {
		return true
	}

	r.mu.RLock()
	e, ok := r.entities[name]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug(context.Background(), "entity is not under simulation state control", logging.String("entity", name))
		return false
	}
	if r.host.Alive(e.Handle) {
		return true
	}

	r.mu.Lock()
	// Only evict the entry we inspected; it may have been replaced meanwhile.
	if cur, still := r.entities[name]; still && cur.Handle == e.Handle {
		r.removeLocked(name)
		r.log.Warn(context.Background(), "entity handle went stale; evicted from registry", logging.String("entity", name))
	}
	r.mu.Unlock()
	return false
}

// CheckSpawnableType applies the CheckEntity contract to spawnable types.
func (r *Registry) CheckSpawnableType(typeName string, allowEmpty bool) bool {
	if typeName == "" && allowEmpty {
		return true
	}

	r.mu.RLock()
	p, ok := r.spawnable[typeName]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug(context.Background(), "type is not spawnable", logging.String("type", typeName))
		return false
	}
	if r.host.PrototypeAlive(p) {
		return true
	}

	r.mu.Lock()
	if cur, still := r.spawnable[typeName]; still && cur == p {
		delete(r.spawnable, typeName)
		r.revision++
		r.updateMetricsLocked()
		r.log.Warn(context.Background(), "spawnable prototype went stale; evicted", logging.String("type", typeName))
	}
	r.mu.Unlock()
	return false
}

// Lookup returns the entry for name without a liveness check.
func (r *Registry) Lookup(name string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	if ok {
		e.Tags = append([]string(nil), e.Tags...)
	}
	return e, ok
}

// Prototype returns the prototype registered for typeName.
func (r *Registry) Prototype(typeName string) (world.Prototype, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.spawnable[typeName]
	return p, ok
}

// Remove deletes name from the registry and the tag index. It reports
// whether an entry was removed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[name]; !ok {
		return false
	}
	r.removeLocked(name)
	return true
}

// EntitiesWithTag returns the sorted live names carrying tag.
func (r *Registry) EntitiesWithTag(tag string) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tagIndex[tag]))
	for name := range r.tagIndex[tag] {
		names = append(names, name)
	}
	r.mu.RUnlock()

	live := names[:0]
	for _, name := range names {
		if r.CheckEntity(name, false) {
			live = append(live, name)
		}
	}
	sort.Strings(live)
	return live
}

// WorldTransform reads the live world transform of a registered entity.
func (r *Registry) WorldTransform(name string) (core.Transform, error) {
	if !r.CheckEntity(name, false) {
		return core.Transform{}, protocol.UnknownEntity(name)
	}
	e, ok := r.Lookup(name)
	if !ok {
		return core.Transform{}, protocol.UnknownEntity(name)
	}
	t, err := r.host.WorldTransform(e.Handle)
	if err != nil {
		return core.Transform{}, fmt.Errorf("%w: %v", protocol.ErrUnknownEntity, err)
	}
	return t, nil
}

// ResolveFrame returns the world transform of a reference frame: identity
// for "", otherwise the named entity's world transform.
func (r *Registry) ResolveFrame(frame string) (core.Transform, error) {
	if frame == "" {
		return core.Identity(), nil
	}
	t, err := r.WorldTransform(frame)
	if err != nil {
		return core.Transform{}, protocol.UnknownReferenceFrame(frame)
	}
	return t, nil
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// SpawnableTypeCount returns the number of spawnable types.
func (r *Registry) SpawnableTypeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spawnable)
}

// Revision increases on every registry mutation.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Epoch identifies this registry instance. A restarted authority has a new
// epoch and restarts its revision count.
func (r *Registry) Epoch() string {
	return r.epoch
}

// Names returns the sorted registered names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) removeLocked(name string) {
	e, ok := r.entities[name]
	if !ok {
		return
	}
	r.unindexLocked(e)
	delete(r.entities, name)
	r.revision++
	r.updateMetricsLocked()
}

func (r *Registry) unindexLocked(e Entity) {
	for _, tag := range e.Tags {
		set := r.tagIndex[tag]
		delete(set, e.Name)
		if len(set) == 0 {
			delete(r.tagIndex, tag)
		}
	}
}

func (r *Registry) updateMetricsLocked() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetRegistryCounts(len(r.entities), len(r.spawnable))
}
