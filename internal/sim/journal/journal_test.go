package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Entry{IntentID: "i1", Kind: "spawn_entity", Entity: "b1", Committed: true, RecordedAt: base}))
	require.NoError(t, s.Record(ctx, Entry{IntentID: "i2", Kind: "spawn_entity", Entity: "b1", Message: "name collision", RecordedAt: base.Add(time.Second)}))
	require.NoError(t, s.Record(ctx, Entry{IntentID: "i3", Kind: "delete_entity", Entity: "r1", Committed: true}))

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "i3", recent[0].IntentID)
	require.Equal(t, "i2", recent[1].IntentID)
	require.False(t, recent[1].Committed)
	require.Equal(t, "name collision", recent[1].Message)
	require.True(t, recent[1].RecordedAt.Equal(base.Add(time.Second)))

	forB1, err := s.ForEntity(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, forB1, 2)
	require.True(t, forB1[1].Committed)
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("Open(\"  \") error = nil, want error")
	}
}

func TestRecordHonoursCancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Record(ctx, Entry{IntentID: "i1"}); err == nil {
		t.Fatalf("Record with cancelled ctx error = nil, want context error")
	}
}
