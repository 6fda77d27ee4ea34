package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
)

func TestArenaSnapshotterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "arena.json")
	saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := logging.NewTestLogger()

	//1.- A missing file is not an error and restores nothing.
	snapshots, err := NewArenaSnapshotter(path, time.Minute, logger, WithSnapshotClock(func() time.Time { return saved }))
	if err != nil {
		t.Fatalf("NewArenaSnapshotter: %v", err)
	}
	init := arena.ArenaInit{Name: "fresh", NextEnv: "plains"}
	if snapshots.Restore(&init) {
		t.Fatalf("nothing should be restored from a missing file")
	}

	//2.- Recorded state reaches the disk on Flush.
	snapshots.Record(arena.ArenaInit{Name: "persisted", Motd: "welcome back", NextEnv: "canyon"})
	if err := snapshots.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var file arenaSnapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !file.SavedAt.Equal(saved) || file.Arena.Name != "persisted" {
		t.Fatalf("unexpected snapshot %+v", file)
	}
	if err := snapshots.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	//3.- A new snapshotter overlays the identity onto the configured arena.
	reloaded, err := NewArenaSnapshotter(path, time.Minute, logger)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	init = arena.ArenaInit{Name: "fresh", Motd: "configured", NextEnv: "plains", TeamCount: 2}
	if !reloaded.Restore(&init) {
		t.Fatalf("expected the snapshot to apply")
	}
	if init.Name != "persisted" || init.Motd != "welcome back" || init.NextEnv != "canyon" || init.TeamCount != 2 {
		t.Fatalf("unexpected restored arena %+v", init)
	}
}

func TestArenaSnapshotterDisabled(t *testing.T) {
	snapshots, err := NewArenaSnapshotter("", time.Minute, logging.NewTestLogger())
	if err != nil || snapshots != nil {
		t.Fatalf("expected a disabled snapshotter, got %v, %v", snapshots, err)
	}
	//1.- Every method is safe on the disabled value.
	snapshots.Start(func(context.Context) (arena.ArenaInit, error) { return arena.ArenaInit{}, nil })
	snapshots.Record(arena.ArenaInit{Name: "ignored"})
	if snapshots.Restore(&arena.ArenaInit{}) {
		t.Fatalf("a disabled snapshotter restores nothing")
	}
	if err := snapshots.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestArenaSnapshotterRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewArenaSnapshotter(path, time.Minute, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestArenaSnapshotterCapturesPeriodically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.json")
	snapshots, err := NewArenaSnapshotter(path, 5*time.Millisecond, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("NewArenaSnapshotter: %v", err)
	}
	captured := make(chan struct{}, 1)
	snapshots.Start(func(context.Context) (arena.ArenaInit, error) {
		select {
		case captured <- struct{}{}:
		default:
		}
		return arena.ArenaInit{Name: "ticking", NextEnv: "plains"}, nil
	})

	//1.- Wait for a capture, then the file appears.
	select {
	case <-captured:
	case <-time.After(2 * time.Second):
		t.Fatalf("capture never ran")
	}
	if err := snapshots.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reloaded, err := NewArenaSnapshotter(path, time.Minute, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	init := arena.ArenaInit{}
	if !reloaded.Restore(&init) || init.Name != "ticking" {
		t.Fatalf("expected the captured arena, got %+v", init)
	}
}
