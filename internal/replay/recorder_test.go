package replay

import (
	"errors"
	"testing"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/server"
)

func TestRecorderWritesBundle(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	recorder, err := NewRecorder(dir, "league", logging.NewTestLogger(), func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	recorder.SetSession("solemnsky", plane.DefaultTuning())

	//1.- Events and broadcasts land in the open bundle.
	recorder.RecordServer(0, server.ConnectEvent("alice", "pipe-client-1"))
	recorder.RecordArena(0, arena.JoinEvent("alice"))
	packet := protocol.Broadcast("welcome")
	payload := protocol.EncodeServer(packet)
	recorder.OnBroadcast(5*time.Millisecond, packet, payload)

	stats := recorder.Snapshot()
	if stats.Frames != 1 || stats.Events != 2 || stats.Bytes != int64(len(payload)) || stats.Failures != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if dir, err := recorder.Flush(); err != nil || dir != stats.Directory {
		t.Fatalf("Flush returned %q, %v", dir, err)
	}

	//2.- Closing seals the bundle; later records are dropped.
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := recorder.Flush(); !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("expected ErrRecorderClosed, got %v", err)
	}
	recorder.RecordArena(time.Second, arena.QuitEvent("alice"))
	if err := recorder.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	bundle, err := Load(stats.Directory)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if bundle.Header == nil || bundle.Header.ArenaName != "solemnsky" {
		t.Fatalf("expected a sealed header, got %+v", bundle.Header)
	}
	if bundle.Header.Tuning["flight.gravityEffect"] != plane.DefaultTuning().Flight.GravityEffect {
		t.Fatalf("tuning not recorded: %v", bundle.Header.Tuning)
	}
	if len(bundle.Events) != 2 || bundle.Events[0].Source != SourceServer || bundle.Events[1].Text != "alice joined the game" {
		t.Fatalf("unexpected events %+v", bundle.Events)
	}
	if len(bundle.Frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(bundle.Frames))
	}
	decoded, err := protocol.DecodeServer(bundle.Frames[0].Payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if decoded.Kind != protocol.ServerBroadcast || *decoded.Text != "welcome" {
		t.Fatalf("unexpected frame packet %+v", decoded)
	}
	if protocol.ServerPacketKind(bundle.Frames[0].Kind) != protocol.ServerBroadcast {
		t.Fatalf("frame kind not recorded")
	}
}
