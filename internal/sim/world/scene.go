package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/entity-state-sim/core"
)

var _ Host = (*Scene)(nil)

type object struct {
	name   string
	tags   []string
	local  core.Transform
	parent Handle
	params *SpawnParams
}

type prototype struct {
	typeName string
	tags     []string
}

// Scene is an in-memory, thread-safe Host. Objects form a parent/child
// hierarchy and store their pose relative to their parent, so moving a parent
// carries attached children along.
type Scene struct {
	mu sync.RWMutex

	next       uint64
	objects    map[Handle]*object
	prototypes map[string]Prototype
	protoDefs  map[Prototype]*prototype
}

// NewScene constructs an empty scene.
func NewScene() *Scene {
	return &Scene{
		objects:    make(map[Handle]*object),
		prototypes: make(map[string]Prototype),
		protoDefs:  make(map[Prototype]*prototype),
	}
}

// AddPrototype registers a spawnable template under typeName. Re-registering a
// name replaces the previous template.
func (s *Scene) AddPrototype(typeName string, tags ...string) Prototype {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.prototypes[typeName]; ok {
		delete(s.protoDefs, old)
	}
	s.next++
	p := Prototype(s.next)
	s.prototypes[typeName] = p
	s.protoDefs[p] = &prototype{typeName: typeName, tags: append([]string(nil), tags...)}
	return p
}

// RemovePrototype unregisters a template. Handles to it become stale.
func (s *Scene) RemovePrototype(typeName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prototypes[typeName]; ok {
		delete(s.protoDefs, p)
		delete(s.prototypes, typeName)
	}
}

// Place creates a pre-existing object directly in the world at the given
// world pose, as a level would at load time.
func (s *Scene) Place(name string, at core.Transform, tags ...string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placeLocked(name, at.Normalized(), tags, nil)
}

func (s *Scene) placeLocked(name string, at core.Transform, tags []string, params *SpawnParams) Handle {
	s.next++
	h := Handle(s.next)
	s.objects[h] = &object{
		name:   name,
		tags:   append([]string(nil), tags...),
		local:  at,
		params: params,
	}
	return h
}

// Alive implements Host.
func (s *Scene) Alive(h Handle) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[h]
	return ok
}

// PrototypeAlive implements Host.
func (s *Scene) PrototypeAlive(p Prototype) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.protoDefs[p]
	return ok
}

// Instantiate implements Host. The new object carries the prototype's tags
// followed by params.Tags.
func (s *Scene) Instantiate(p Prototype, name string, at core.Transform, params SpawnParams) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.protoDefs[p]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrPrototypeNotFound, p)
	}
	if params.TypeName == "" {
		params.TypeName = def.typeName
	}
	params.Tags = append([]string(nil), params.Tags...)
	tags := append(append([]string(nil), def.tags...), params.Tags...)
	return s.placeLocked(name, at.Normalized(), tags, &params), nil
}

// Destroy implements Host. Children of the destroyed object are detached in
// place.
func (s *Scene) Destroy(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[h]; !ok {
		return fmt.Errorf("%w: %d", ErrHandleInvalid, h)
	}
	for ch, child := range s.objects {
		if child.parent == h {
			child.local = s.worldLocked(ch)
			child.parent = 0
		}
	}
	delete(s.objects, h)
	return nil
}

// WorldTransform implements Host.
func (s *Scene) WorldTransform(h Handle) (core.Transform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[h]; !ok {
		return core.Transform{}, fmt.Errorf("%w: %d", ErrHandleInvalid, h)
	}
	return s.worldLocked(h), nil
}

// SetWorldTransform implements Host.
func (s *Scene) SetWorldTransform(h Handle, t core.Transform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHandleInvalid, h)
	}
	if obj.parent != 0 {
		obj.local = core.ToRelative(t, s.worldLocked(obj.parent))
		return nil
	}
	obj.local = t.Normalized()
	return nil
}

// AttachTo implements Host.
func (s *Scene) AttachTo(child, parent Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[child]
	if !ok {
		return fmt.Errorf("%w: child %d", ErrHandleInvalid, child)
	}
	if _, ok := s.objects[parent]; !ok {
		return fmt.Errorf("%w: parent %d", ErrHandleInvalid, parent)
	}
	for p := parent; p != 0; p = s.objects[p].parent {
		if p == child {
			return fmt.Errorf("%w: %d under %d", ErrAttachCycle, child, parent)
		}
	}

	world := s.worldLocked(child)
	obj.parent = parent
	obj.local = core.ToRelative(world, s.worldLocked(parent))
	return nil
}

// Detach implements Host.
func (s *Scene) Detach(child Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[child]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHandleInvalid, child)
	}
	if obj.parent == 0 {
		return nil
	}
	obj.local = s.worldLocked(child)
	obj.parent = 0
	return nil
}

// IsAttachedTo implements Host. Only direct parenting counts.
func (s *Scene) IsAttachedTo(child, parent Handle) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[child]
	return ok && parent != 0 && obj.parent == parent
}

// Entities implements Host. Results are sorted by name.
func (s *Scene) Entities() []EntityInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]EntityInfo, 0, len(s.objects))
	for h, obj := range s.objects {
		res = append(res, EntityInfo{
			Name:   obj.name,
			Handle: h,
			Tags:   append([]string(nil), obj.tags...),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Prototypes implements Host.
func (s *Scene) Prototypes() map[string]Prototype {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make(map[string]Prototype, len(s.prototypes))
	for name, p := range s.prototypes {
		res[name] = p
	}
	return res
}

// SpawnParams returns the spawn metadata recorded on h, if it was spawned.
func (s *Scene) SpawnParams(h Handle) (SpawnParams, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[h]
	if !ok || obj.params == nil {
		return SpawnParams{}, false
	}
	return *obj.params, true
}

// Name returns the object name behind h.
func (s *Scene) Name(h Handle) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[h]
	if !ok {
		return "", false
	}
	return obj.name, true
}

// worldLocked composes local poses up the parent chain. Callers must hold mu.
func (s *Scene) worldLocked(h Handle) core.Transform {
	obj := s.objects[h]
	world := obj.local
	for p := obj.parent; p != 0; {
		parent, ok := s.objects[p]
		if !ok {
			break
		}
		world = core.ToWorld(world, parent.local)
		p = parent.parent
	}
	return world
}
