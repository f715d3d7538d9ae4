package world

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/signalsfoundry/entity-state-sim/core"
)

func at(x, y, z float64) core.Transform {
	return core.NewTransform(mgl64.Vec3{x, y, z}, mgl64.QuatIdent())
}

func TestAttachKeepsWorldPoseAndFollowsParent(t *testing.T) {
	s := NewScene()
	parent := s.Place("cart", at(100, 0, 0))
	child := s.Place("box", at(150, 20, 0))

	if err := s.AttachTo(child, parent); err != nil {
		t.Fatalf("AttachTo error: %v", err)
	}
	got, err := s.WorldTransform(child)
	if err != nil {
		t.Fatalf("WorldTransform error: %v", err)
	}
	if !got.ApproxEqual(at(150, 20, 0), 1e-9) {
		t.Fatalf("child pose after attach = %+v, want unchanged", got)
	}

	yaw := core.NewTransform(mgl64.Vec3{200, 0, 0}, mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1}))
	if err := s.SetWorldTransform(parent, yaw); err != nil {
		t.Fatalf("SetWorldTransform error: %v", err)
	}
	got, _ = s.WorldTransform(child)
	// Offset (50,20) rotated by +90 degrees about Z is (-20,50).
	if !got.Position.ApproxEqualThreshold(mgl64.Vec3{180, 50, 0}, 1e-9) {
		t.Fatalf("child position after parent move = %v, want [180 50 0]", got.Position)
	}

	if !s.IsAttachedTo(child, parent) {
		t.Fatalf("IsAttachedTo = false, want true")
	}
	if err := s.Detach(child); err != nil {
		t.Fatalf("Detach error: %v", err)
	}
	detached, _ := s.WorldTransform(child)
	if !detached.ApproxEqual(got, 1e-9) {
		t.Fatalf("pose after detach = %+v, want %+v", detached, got)
	}
	if s.IsAttachedTo(child, parent) {
		t.Fatalf("IsAttachedTo after detach = true, want false")
	}
}

func TestAttachRejectsCycles(t *testing.T) {
	s := NewScene()
	a := s.Place("a", at(0, 0, 0))
	b := s.Place("b", at(1, 0, 0))
	if err := s.AttachTo(b, a); err != nil {
		t.Fatalf("AttachTo(b,a) error: %v", err)
	}
	if err := s.AttachTo(a, b); !errors.Is(err, ErrAttachCycle) {
		t.Fatalf("AttachTo(a,b) error = %v, want ErrAttachCycle", err)
	}
	if err := s.AttachTo(a, a); !errors.Is(err, ErrAttachCycle) {
		t.Fatalf("AttachTo(a,a) error = %v, want ErrAttachCycle", err)
	}
}

func TestDestroyDetachesChildrenInPlace(t *testing.T) {
	s := NewScene()
	parent := s.Place("parent", at(10, 0, 0))
	child := s.Place("child", at(12, 0, 0))
	_ = s.AttachTo(child, parent)

	if err := s.Destroy(parent); err != nil {
		t.Fatalf("Destroy error: %v", err)
	}
	if s.Alive(parent) {
		t.Fatalf("parent still alive after Destroy")
	}
	got, err := s.WorldTransform(child)
	if err != nil || !got.ApproxEqual(at(12, 0, 0), 1e-9) {
		t.Fatalf("child after parent destroy = (%+v, %v), want in place", got, err)
	}
	if err := s.Destroy(parent); !errors.Is(err, ErrHandleInvalid) {
		t.Fatalf("second Destroy error = %v, want ErrHandleInvalid", err)
	}
}

func TestInstantiateRecordsSpawnParams(t *testing.T) {
	s := NewScene()
	p := s.AddPrototype("box", "cargo")

	h, err := s.Instantiate(p, "b1", at(1, 2, 3), SpawnParams{Namespace: "ns", Tags: []string{"red"}})
	if err != nil {
		t.Fatalf("Instantiate error: %v", err)
	}
	params, ok := s.SpawnParams(h)
	if !ok {
		t.Fatalf("SpawnParams missing on spawned object")
	}
	if params.TypeName != "box" || params.Namespace != "ns" {
		t.Fatalf("params = %+v, want type box namespace ns", params)
	}

	var info EntityInfo
	for _, e := range s.Entities() {
		if e.Handle == h {
			info = e
		}
	}
	if info.Name != "b1" || strings.Join(info.Tags, ",") != "cargo,red" {
		t.Fatalf("entity info = %+v, want b1 with tags cargo,red", info)
	}

	s.RemovePrototype("box")
	if s.PrototypeAlive(p) {
		t.Fatalf("PrototypeAlive after removal = true")
	}
	if _, err := s.Instantiate(p, "b2", at(0, 0, 0), SpawnParams{}); !errors.Is(err, ErrPrototypeNotFound) {
		t.Fatalf("Instantiate after removal error = %v, want ErrPrototypeNotFound", err)
	}
}

func TestLoadScene(t *testing.T) {
	const doc = `
prototypes:
  - name: box
    tags: [cargo]
  - name: turtlebot
entities:
  - name: robot1
    tags: [robot]
  - name: shelf
    position: {x: 1, y: 2, z: 0}
    orientation: {x: 0, y: 0, z: 0.7071067811865476, w: 0.7071067811865476}
  - name: tray
    parent: robot1
    position: {x: 0, y: 0, z: 0.5}
`
	s := NewScene()
	summary, err := LoadScene(s, strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadScene error: %v", err)
	}
	if len(summary.Prototypes) != 2 || len(summary.Entities) != 3 || summary.Attached != 1 {
		t.Fatalf("summary = %+v, want 2 prototypes, 3 entities, 1 attached", summary)
	}
	if _, ok := s.Prototypes()["turtlebot"]; !ok {
		t.Fatalf("turtlebot prototype missing")
	}

	var shelf Handle
	for _, e := range s.Entities() {
		if e.Name == "shelf" {
			shelf = e.Handle
		}
	}
	got, _ := s.WorldTransform(shelf)
	if !got.Position.ApproxEqualThreshold(mgl64.Vec3{100, -200, 0}, 1e-9) {
		t.Fatalf("shelf internal position = %v, want [100 -200 0]", got.Position)
	}
}

func TestLoadSceneRejectsUnknownParent(t *testing.T) {
	const doc = `
entities:
  - name: tray
    parent: ghost
`
	if _, err := LoadScene(NewScene(), strings.NewReader(doc)); err == nil {
		t.Fatalf("LoadScene error = nil, want unknown parent error")
	}
}
