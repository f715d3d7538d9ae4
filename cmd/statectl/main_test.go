package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/entity-state-sim/core"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/nbi"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/authority"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/journal"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/publisher"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/registry"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func startServer(t *testing.T) string {
	t.Helper()
	scene := world.NewScene()
	scene.Place("robot1", core.Identity(), "robot")
	scene.AddPrototype("box")
	reg := registry.New(scene, logging.Noop())
	reg.Populate(context.Background(), scene)
	auth := authority.New(scene, reg, logging.Noop())
	pub := publisher.New(reg, logging.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				pub.OnTick(now)
			}
		}
	}()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	nbi.RegisterSimulationStateServer(srv, nbi.NewStateService(auth, logging.Noop(), nbi.WithPublisher(pub)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func runCLI(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return &out, err
}

func TestSpawnThenGet(t *testing.T) {
	addr := startServer(t)

	out, err := runCLI(t, "-addr", addr, "spawn", "-pos", "1,2,3", "-tags", "cargo,red", "box", "b1")
	require.NoError(t, err, out.String())
	var spawn protocol.SpawnEntityResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &spawn))
	assert.Equal(t, protocol.Committed, spawn.Disposition)

	out, err = runCLI(t, "-addr", addr, "get", "b1")
	require.NoError(t, err, out.String())
	var got protocol.GetEntityStateResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.InDelta(t, 1, got.Pose.Position.X, 1e-9)
	assert.InDelta(t, 2, got.Pose.Position.Y, 1e-9)
	assert.InDelta(t, 3, got.Pose.Position.Z, 1e-9)

	out, err = runCLI(t, "-addr", addr, "get", "-frame", "b1", "robot1")
	require.NoError(t, err, out.String())
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.InDelta(t, -1, got.Pose.Position.X, 1e-9)
}

func TestFailedResponseIsPrintedAndReported(t *testing.T) {
	addr := startServer(t)

	out, err := runCLI(t, "-addr", addr, "delete", "ghost")
	if !errors.Is(err, errFailed) {
		t.Fatalf("run(delete ghost) error = %v, want errFailed", err)
	}
	var resp protocol.DeleteEntityResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.StatusMessage, "ghost")
}

func TestAttachSpawnManyAndStream(t *testing.T) {
	addr := startServer(t)

	out, err := runCLI(t, "-addr", addr, "spawn-many", "-tag", "cargo", "box", "b1", "b2")
	require.NoError(t, err, out.String())

	out, err = runCLI(t, "-addr", addr, "attach", "robot1", "b1")
	require.NoError(t, err, out.String())
	var attach protocol.AttachResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &attach))
	assert.True(t, attach.Attached)

	out, err = runCLI(t, "-addr", addr, "stream", "-count", "2", "b1", "b2")
	require.NoError(t, err, out.String())
	dec := json.NewDecoder(out)
	for i := 0; i < 2; i++ {
		var batch protocol.EntityStates
		require.NoError(t, dec.Decode(&batch))
		assert.Len(t, batch.States, 2)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"no command":      {},
		"unknown command": {"teleport"},
		"bad position":    {"-addr", "127.0.0.1:1", "set", "-pos", "1,2", "robot1"},
		"missing args":    {"-addr", "127.0.0.1:1", "attach", "robot1"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := runCLI(t, args...)
			if err == nil || errors.Is(err, errFailed) {
				t.Fatalf("run(%v) error = %v, want usage error", args, err)
			}
		})
	}
}

func TestJournalCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, journal.Entry{IntentID: "i1", Kind: "spawn_entity", Entity: "b1", Committed: true}))
	require.NoError(t, store.Record(ctx, journal.Entry{IntentID: "i2", Kind: "delete_entity", Entity: "b2"}))
	require.NoError(t, store.Close())

	out, err := runCLI(t, "journal", "-db", path, "-entity", "b1")
	require.NoError(t, err)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "i1", entries[0].IntentID)
}
