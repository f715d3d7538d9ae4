package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/config"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/nbi"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorld = `
prototypes:
  - name: box
    tags: [cargo]
entities:
  - name: robot1
    tags: [robot]
    position: {x: 1, y: 2, z: 0}
`

func TestSimulatorStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir := t.TempDir()
	worldPath := filepath.Join(dir, "world.yaml")
	require.NoError(t, os.WriteFile(worldPath, []byte(testWorld), 0o600))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Authority{
		GRPCAddr:    lis.Addr().String(),
		WorldPath:   worldPath,
		JournalPath: filepath.Join(dir, "journal.db"),
		Tick:        20 * time.Millisecond,
		ClockMode:   "accelerated",
		Speedup:     2,
		Log:         config.Log{Level: "warn", Format: "text"},
	}
	log := cfg.Log.Logger()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis)
	}()

	conn, err := nbi.Dial(cfg.GRPCAddr)
	require.NoError(t, err)
	defer conn.Close()
	client := nbi.NewStateClient(conn)

	got, err := nbi.WaitForEntity(ctx, client, "robot1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 1, got.Pose.Position.X, 1e-9)
	assert.InDelta(t, 2, got.Pose.Position.Y, 1e-9)

	spawn, err := client.SpawnEntity(ctx, &protocol.SpawnEntityRequest{Xml: "box", StateName: "crate1"})
	require.NoError(t, err)
	require.True(t, spawn.Success, spawn.StatusMessage)
	assert.Equal(t, protocol.Committed, spawn.Disposition)

	// Forwarded intents are applied asynchronously and journaled.
	authClient := nbi.NewAuthorityClient(conn, logging.Noop())
	del := protocol.NewDeleteEntityIntent(protocol.DeleteEntityRequest{Name: "crate1"})
	del.Origin = "smoke-test"
	_, err = authClient.ApplyIntent(ctx, &del)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp, err := client.GetEntityState(ctx, &protocol.GetEntityStateRequest{Name: "crate1"})
		return err == nil && !resp.Success
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	store, err := journal.Open(cfg.JournalPath)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.ForEntity(context.Background(), "crate1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Committed)
	assert.Equal(t, "smoke-test", entries[0].Origin)
	assert.Equal(t, del.ID, entries[0].IntentID)
}

func TestSimulatorRejectsMalformedWorld(t *testing.T) {
	dir := t.TempDir()
	worldPath := filepath.Join(dir, "world.yaml")
	require.NoError(t, os.WriteFile(worldPath, []byte("entities:\n  - name: a\n    parent: ghost\n"), 0o600))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	cfg := config.Authority{
		GRPCAddr:  lis.Addr().String(),
		WorldPath: worldPath,
		Tick:      time.Second,
		ClockMode: "realtime",
		Speedup:   1,
	}
	if err := run(context.Background(), cfg, logging.Noop(), lis); err == nil {
		t.Fatalf("run with unknown parent succeeded, want error")
	}
}
