package scoreboard

import (
	"slices"
	"testing"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
)

func newTestArena() *arena.Arena {
	return arena.NewArena(arena.ArenaInit{Name: "test", NextEnv: "default", TeamCount: 2},
		arena.WithLogger(logging.NewTestLogger()))
}

func newTestBoard(a *arena.Arena) *Scoreboard {
	return New(a, ScoreboardInit{Fields: DefaultFields()}, WithLogger(logging.NewTestLogger()))
}

func TestScoreboardRegistersZeroedRecords(t *testing.T) {
	a := newTestArena()
	a.ConnectPlayer("early")
	board := newTestBoard(a)
	a.ConnectPlayer("late")

	for _, p := range a.Players() {
		record := board.Record(p)
		if record == nil || !slices.Equal(record.Values(), []int{0, 0, 0}) {
			t.Fatalf("unexpected record for %s: %v", p.Nickname(), record)
		}
	}

	a.ApplyDelta(arena.QuitDelta(0))
	if init := board.CaptureInitializer(); len(init.Records) != 1 {
		t.Fatalf("record should be dropped on quit, have %v", init.Records)
	}
}

func TestScoreboardCountsDeaths(t *testing.T) {
	a := newTestArena()
	delta := a.ConnectPlayer("pilot")
	p := a.GetPlayer(delta.Join.PID)
	board := newTestBoard(a)

	a.DoKill(p)
	a.DoKill(p)
	if got := board.Record(p).Value(board.FieldIndex(FieldDeaths)); got != 2 {
		t.Fatalf("expected 2 deaths, got %d", got)
	}
}

func TestScoreboardCollectsChangedRows(t *testing.T) {
	a := newTestArena()
	a.ConnectPlayer("alpha")
	a.ConnectPlayer("bravo")
	board := newTestBoard(a)
	if _, ok := board.CollectDelta(); ok {
		t.Fatalf("fresh scoreboard should produce nothing")
	}

	board.Add(a.GetPlayer(1), FieldKills, 3)
	delta, ok := board.CollectDelta()
	if !ok || delta.Fields != nil || len(delta.Records) != 1 || delta.Records[1][0] != 3 {
		t.Fatalf("unexpected delta %+v", delta)
	}
	if _, ok := board.CollectDelta(); ok {
		t.Fatalf("rows should be reported once")
	}

	board.SetFields([]string{FieldKills, FieldDeaths})
	delta, ok = board.CollectDelta()
	if !ok || delta.Fields == nil || len(*delta.Fields) != 2 {
		t.Fatalf("expected field change, got %+v", delta)
	}
}

func TestScoreboardMirrorsThroughInitAndDelta(t *testing.T) {
	server := newTestArena()
	server.ConnectPlayer("alpha")
	board := newTestBoard(server)
	board.Add(server.GetPlayer(0), FieldAssists, 1)

	//1.- The client starts from a captured initializer.
	client := arena.NewArena(server.CaptureInitializer(),
		arena.WithLogger(logging.NewTestLogger()), arena.AsClient(0))
	mirror := New(client, board.CaptureInitializer(), WithLogger(logging.NewTestLogger()))
	if got := mirror.Record(client.GetPlayer(0)).Value(2); got != 1 {
		t.Fatalf("expected assist in mirror, got %d", got)
	}

	//2.- Deltas keep it current.
	board.CollectDelta()
	board.Add(server.GetPlayer(0), FieldKills, 5)
	delta, _ := board.CollectDelta()
	mirror.ApplyDelta(delta)
	if got := mirror.Record(client.GetPlayer(0)).Values(); !slices.Equal(got, []int{5, 0, 1}) {
		t.Fatalf("unexpected mirrored row %v", got)
	}
}

func TestScoreRecordIgnoresOutOfRange(t *testing.T) {
	record := newScoreRecord([]int{1, 2, 3, 4}, 2)
	record.SetValue(5, 9)
	record.Add(-1, 9)
	if !slices.Equal(record.Values(), []int{1, 2}) || record.Value(7) != 0 {
		t.Fatalf("unexpected row %v", record.Values())
	}
}

func TestScoreboardInitVerifyStructure(t *testing.T) {
	wide := ScoreboardInit{Fields: []string{FieldKills}, Records: map[networked.PID][]int{0: {1, 2}}}
	if wide.VerifyStructure() {
		t.Fatalf("rows wider than the layout must be rejected")
	}
	fit := ScoreboardInit{Fields: DefaultFields(), Records: map[networked.PID][]int{0: {1, 2}}}
	if !fit.VerifyStructure() {
		t.Fatalf("short rows should verify")
	}
}
