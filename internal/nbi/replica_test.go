package nbi

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
)

type staticSource struct {
	snap *protocol.RegistrySnapshot
	err  error
}

func (s *staticSource) Snapshot(context.Context) (*protocol.RegistrySnapshot, error) {
	return s.snap, s.err
}

func TestReplicaFollowsRegistryContract(t *testing.T) {
	r := NewReplica(&staticSource{}, nil)
	if r.CheckEntity("robot1", false) {
		t.Fatalf("empty replica reports robot1")
	}
	if _, err := r.WorldTransform("robot1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("WorldTransform before load error = %v, want ErrNotReady", err)
	}

	r.Load(&protocol.RegistrySnapshot{
		Revision: 3,
		Entities: []protocol.SnapshotEntity{
			{Name: "robot1", Position: protocol.Vector3{X: 100}, Orientation: protocol.IdentityQuaternion},
		},
		SpawnableTypes: []string{"box"},
	})

	if !r.CheckEntity("robot1", false) || !r.CheckEntity("", true) || r.CheckEntity("", false) {
		t.Fatalf("CheckEntity does not follow the registry contract")
	}
	if !r.CheckSpawnableType("box", false) || r.CheckSpawnableType("crate", false) {
		t.Fatalf("CheckSpawnableType mismatch")
	}
	frame, err := r.ResolveFrame("robot1")
	if err != nil || frame.Position.X() != 100 {
		t.Fatalf("ResolveFrame(robot1) = (%+v, %v), want x=100", frame, err)
	}
	if _, err := r.ResolveFrame("ghost"); !errors.Is(err, protocol.ErrUnknownReferenceFrame) {
		t.Fatalf("ResolveFrame(ghost) error = %v, want ErrUnknownReferenceFrame", err)
	}

	// Older snapshots never replace newer ones.
	r.Load(&protocol.RegistrySnapshot{Revision: 2})
	if r.Revision() != 3 || !r.CheckEntity("robot1", false) {
		t.Fatalf("stale snapshot replaced revision 3")
	}
}

func TestReplicaRefreshKeepsContentsOnError(t *testing.T) {
	src := &staticSource{snap: &protocol.RegistrySnapshot{Revision: 1, Entities: []protocol.SnapshotEntity{{Name: "a"}}}}
	r := NewReplica(src, nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	src.err = errors.New("authority down")
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatalf("Refresh with failing source error = nil")
	}
	if got := r.Names(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Names after failed refresh = %v, want [a]", got)
	}
}

func TestReplicaResetsOnEpochChange(t *testing.T) {
	r := NewReplica(&staticSource{}, nil)
	r.Load(&protocol.RegistrySnapshot{Epoch: "before-restart", Revision: 40, Entities: []protocol.SnapshotEntity{{Name: "old"}}})

	// A restarted authority counts revisions from zero again.
	r.Load(&protocol.RegistrySnapshot{Epoch: "after-restart", Revision: 3, Entities: []protocol.SnapshotEntity{{Name: "fresh"}}})
	if r.CheckEntity("old", false) || !r.CheckEntity("fresh", false) {
		t.Fatalf("Names after epoch change = %v, want [fresh]", r.Names())
	}
	if r.Revision() != 3 || r.Epoch() != "after-restart" {
		t.Fatalf("(epoch, revision) = (%q, %d), want (after-restart, 3)", r.Epoch(), r.Revision())
	}

	// Ordering applies again within the new epoch.
	r.Load(&protocol.RegistrySnapshot{Epoch: "after-restart", Revision: 2})
	if !r.CheckEntity("fresh", false) {
		t.Fatalf("stale snapshot in the same epoch replaced revision 3")
	}
}
