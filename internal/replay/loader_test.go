package replay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestLoaderReplayOrdering(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	writer, _, err := NewWriter(dir, "order", func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	//1.- Interleave frames and events out of write order.
	mustFrame := func(uptime time.Duration) {
		if err := writer.AppendFrame(uptime, 3, []byte{byte(uptime / time.Millisecond)}); err != nil {
			t.Fatalf("AppendFrame: %v", err)
		}
	}
	mustEvent := func(uptime time.Duration, kind string) {
		if err := writer.AppendEvent(uptime, SourceArena, kind, "", json.RawMessage(`{}`)); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	mustFrame(20 * time.Millisecond)
	mustFrame(40 * time.Millisecond)
	mustEvent(20*time.Millisecond, "join")
	mustEvent(30*time.Millisecond, "team_change")
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bundle, err := Load(writer.Directory())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	//2.- Replay walks uptime order, events first on ties.
	var order []string
	if err := bundle.Replay(func(entry TimelineEntry) error {
		label := entry.Type()
		if entry.Event != nil {
			label += ":" + entry.Event.Kind
		}
		order = append(order, label)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := []string{"event:join", "frame", "event:team_change", "frame"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}

	//3.- A failing callback stops the walk.
	stop := errors.New("stop")
	calls := 0
	err = bundle.Replay(func(TimelineEntry) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected replay to stop after the first error, got %v after %d", err, calls)
	}
	if len(bundle.Entries()) != 4 {
		t.Fatalf("expected 4 entries")
	}
}

func TestLoadOpenBundleHasNoHeader(t *testing.T) {
	dir := t.TempDir()
	writer, _, err := NewWriter(dir, "live", nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer writer.Close()
	if err := writer.AppendEvent(0, SourceServer, "start", "", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	bundle, err := Load(writer.Directory())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if bundle.Header != nil || len(bundle.Events) != 1 || len(bundle.Frames) != 0 {
		t.Fatalf("unexpected open bundle %+v", bundle)
	}
}
