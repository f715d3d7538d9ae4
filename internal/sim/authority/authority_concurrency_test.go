package authority

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/publisher"
)

// TestConcurrentOperations runs racing spawns of one name alongside attach
// toggles, frame-relative reads, forwarded intents, publisher ticks and
// registry snapshots. Run with -race.
func TestConcurrentOperations(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if resp := f.auth.SpawnEntity(ctx, &protocol.SpawnEntityRequest{Xml: "box", StateName: "crate"}); !resp.Success {
		t.Fatalf("SpawnEntity(crate): %s", resp.StatusMessage)
	}

	d := NewDispatcher(f.auth, logging.Noop())
	dispatched := make(chan error, 1)
	go func() { dispatched <- d.Run(ctx) }()

	pub := publisher.New(f.reg, logging.Noop())
	sub, unsubscribe := pub.Subscribe([]string{"contested", "crate", "robot1"}, "robot1", 1)
	defer unsubscribe()

	const spawners = 16
	var (
		start     = make(chan struct{})
		successes atomic.Int32
		workers   sync.WaitGroup
	)
	for i := 0; i < spawners; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			<-start
			resp := f.auth.SpawnEntity(ctx, &protocol.SpawnEntityRequest{Xml: "box", StateName: "contested", Pose: pose(1, 0, 0)})
			if resp.Success {
				successes.Add(1)
			}
		}()
	}

	const iterations = 50
	background := []func(iter int){
		func(int) {
			f.auth.Attach(ctx, &protocol.AttachRequest{Name1: "robot1", Name2: "crate"})
		},
		func(int) {
			f.auth.GetEntityState(ctx, &protocol.GetEntityStateRequest{Name: "crate", ReferenceFrame: "robot1"})
			f.auth.GetEntityState(ctx, &protocol.GetEntityStateRequest{Name: "contested", ReferenceFrame: "crate"})
		},
		func(iter int) {
			in := protocol.NewSetEntityStateIntent(protocol.SetEntityStateRequest{StateName: "robot1", Pose: pose(float64(iter), 0, 0)})
			if _, err := d.Forward(ctx, in); err != nil {
				t.Errorf("Forward: %v", err)
			}
		},
		func(iter int) {
			pub.OnTick(time.Unix(int64(iter), 0))
			select {
			case <-sub.C():
			default:
			}
		},
		func(int) {
			f.reg.Snapshot()
			f.reg.EntitiesWithTag("robot")
		},
	}
	for _, fn := range background {
		workers.Add(1)
		go func(fn func(int)) {
			defer workers.Done()
			<-start
			for i := 0; i < iterations; i++ {
				fn(i)
			}
		}(fn)
	}

	close(start)
	workers.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("successful spawns of contested = %d, want 1", got)
	}
	hosted := 0
	for _, info := range f.scene.Entities() {
		if info.Name == "contested" {
			hosted++
		}
	}
	if hosted != 1 {
		t.Fatalf("host objects named contested = %d, want 1", hosted)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("dispatcher still holds %d intents", d.Pending())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-dispatched; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("dispatcher Run: %v", err)
	}
}
