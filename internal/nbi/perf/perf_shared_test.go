//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"testing"

	"github.com/signalsfoundry/entity-state-sim/core"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/nbi"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/authority"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/registry"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/world"
)

type perfConfig struct {
	Entities  int
	BatchSize int
	Lookups   int
}

func newAuthority() (*authority.Authority, *registry.Registry) {
	scene := world.NewScene()
	scene.Place("robot1", core.Identity())
	scene.AddPrototype("box")
	reg := registry.New(scene, logging.Noop())
	reg.Populate(context.Background(), scene)
	return authority.New(scene, reg, logging.Noop()), reg
}

func benchmarkSpawn(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		auth, _ := newAuthority()
		svc := nbi.NewStateService(auth, logging.Noop())

		b.ResetTimer()
		for j := 0; j < cfg.Entities; j++ {
			name := fmt.Sprintf("box-%d-%d", i, j)
			resp, err := svc.SpawnEntity(ctx, &protocol.SpawnEntityRequest{
				Xml:                 "box",
				StateName:           name,
				StateReferenceFrame: "robot1",
				Pose:                protocol.Pose{Position: protocol.Vector3{X: float64(j)}, Orientation: protocol.IdentityQuaternion},
			})
			if err != nil || !resp.Success {
				b.Fatalf("SpawnEntity(%s) = %+v, %v", name, resp, err)
			}
		}
		b.StopTimer()
	}
}

func benchmarkBatchSpawn(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		auth, _ := newAuthority()
		svc := nbi.NewStateService(auth, logging.Noop())

		b.ResetTimer()
		for start := 0; start < cfg.Entities; start += cfg.BatchSize {
			req := &protocol.SpawnEntitiesRequest{}
			for j := start; j < start+cfg.BatchSize && j < cfg.Entities; j++ {
				req.TypeList = append(req.TypeList, "box")
				req.NameList = append(req.NameList, fmt.Sprintf("box-%d-%d", i, j))
			}
			resp, err := svc.SpawnEntities(ctx, req)
			if err != nil || !resp.Success {
				b.Fatalf("SpawnEntities = %+v, %v", resp, err)
			}
		}
		b.StopTimer()
	}
}

func benchmarkGetRelative(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	auth, _ := newAuthority()
	svc := nbi.NewStateService(auth, logging.Noop())
	for j := 0; j < cfg.Entities; j++ {
		_, _ = svc.SpawnEntity(ctx, &protocol.SpawnEntityRequest{Xml: "box", StateName: fmt.Sprintf("box-%d", j)})
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for j := 0; j < cfg.Lookups; j++ {
			name := fmt.Sprintf("box-%d", j%cfg.Entities)
			resp, err := svc.GetEntityState(ctx, &protocol.GetEntityStateRequest{Name: name, ReferenceFrame: "robot1"})
			if err != nil || !resp.Success {
				b.Fatalf("GetEntityState(%s) = %+v, %v", name, resp, err)
			}
		}
	}
}
