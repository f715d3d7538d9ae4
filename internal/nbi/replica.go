package nbi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/entity-state-sim/core"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
)

// SnapshotSource yields registry snapshots. *AuthorityClient satisfies it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*protocol.RegistrySnapshot, error)
}

// Replica is a proxy's read-only copy of the authority registry, refreshed
// by polling. It satisfies proxy.View and publisher.View. Between refreshes
// it can be stale in either direction.
type Replica struct {
	src SnapshotSource
	log logging.Logger

	mu       sync.RWMutex
	loaded   bool
	epoch    string
	revision uint64
	entities map[string]core.Transform
	types    map[string]struct{}
}

// NewReplica returns an empty replica. Call Refresh or Run to load it.
func NewReplica(src SnapshotSource, log logging.Logger) *Replica {
	if log == nil {
		log = logging.Noop()
	}
	return &Replica{
		src:      src,
		log:      log,
		entities: make(map[string]core.Transform),
		types:    make(map[string]struct{}),
	}
}

// Refresh replaces the replica contents with a fresh snapshot.
func (r *Replica) Refresh(ctx context.Context) error {
	snap, err := r.src.Snapshot(ctx)
	if err != nil {
		return err
	}
	r.Load(snap)
	return nil
}

// Load installs snap. Within one epoch, snapshots older than the current
// revision are ignored. A snapshot from a different epoch, such as one from a
// restarted authority, always replaces the contents.
func (r *Replica) Load(snap *protocol.RegistrySnapshot) {
	if snap == nil {
		return
	}
	entities := make(map[string]core.Transform, len(snap.Entities))
	for _, e := range snap.Entities {
		entities[e.Name] = core.NewTransform(e.Position.Vec3(), e.Orientation.Quat())
	}
	types := make(map[string]struct{}, len(snap.SpawnableTypes))
	for _, t := range snap.SpawnableTypes {
		types[t] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded && snap.Epoch == r.epoch && snap.Revision < r.revision {
		return
	}
	if r.loaded && snap.Epoch != r.epoch {
		r.log.Info(context.Background(), "authority epoch changed; replica reset",
			logging.String("old_epoch", r.epoch),
			logging.String("new_epoch", snap.Epoch),
		)
	}
	r.entities = entities
	r.types = types
	r.epoch = snap.Epoch
	r.revision = snap.Revision
	r.loaded = true
}

// Run refreshes every interval until ctx is cancelled. Refresh failures are
// logged and the previous contents kept.
func (r *Replica) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn(ctx, "initial replica refresh failed", logging.Err(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn(ctx, "replica refresh failed", logging.Err(err))
			}
		}
	}
}

// Ready reports whether at least one snapshot has been loaded.
func (r *Replica) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Revision is the authority revision of the loaded snapshot.
func (r *Replica) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Epoch is the authority registry epoch of the loaded snapshot.
func (r *Replica) Epoch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// CheckEntity follows the registry contract against the snapshot.
func (r *Replica) CheckEntity(name string, allowEmptyAsWorld bool) bool {
	if name == "" {
		return allowEmptyAsWorld
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[name]
	return ok
}

// CheckSpawnableType follows the registry contract against the snapshot.
func (r *Replica) CheckSpawnableType(typeName string, allowEmpty bool) bool {
	if typeName == "" {
		return allowEmpty
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeName]
	return ok
}

// WorldTransform returns the snapshotted world transform of name.
func (r *Replica) WorldTransform(name string) (core.Transform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return core.Transform{}, ErrNotReady
	}
	t, ok := r.entities[name]
	if !ok {
		return core.Transform{}, protocol.UnknownEntity(name)
	}
	return t, nil
}

// ResolveFrame maps "" to identity and an entity name to its transform.
func (r *Replica) ResolveFrame(frame string) (core.Transform, error) {
	if frame == "" {
		return core.Identity(), nil
	}
	t, err := r.WorldTransform(frame)
	if err != nil {
		return core.Transform{}, protocol.UnknownReferenceFrame(frame)
	}
	return t, nil
}

// Names lists the snapshotted entity names, sorted.
func (r *Replica) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entities))
	for name := range r.entities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
