package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/server"
)

func openTestLog(t *testing.T, path string) *Log {
	t.Helper()
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	l, err := Open(path, WithLogger(logging.NewTestLogger()), WithSession("s1"),
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	l := openTestLog(t, path)

	//1.- Both tables feed one newest-first view.
	l.RecordServer(0, server.StartEvent("solemnsky", ":4242"))
	l.RecordArena(time.Second, arena.JoinEvent("alice"))
	l.RecordArena(2*time.Second, arena.TeamChangeEvent("alice", arena.TeamSpectator, arena.TeamRed))

	entries, err := l.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != "team_change" || entries[0].Source != "arena" || entries[0].UptimeMs != 2000 {
		t.Fatalf("unexpected newest entry %+v", entries[0])
	}
	if entries[1].Text != "alice joined the game" || entries[1].Session != "s1" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
	if entries[0].Seq <= entries[1].Seq {
		t.Fatalf("expected descending sequence")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	//2.- The rows are plain SQL.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var name, kind string
	if err := db.QueryRow(`SELECT kind, json_extract(raw_json, '$.name') FROM server_events`).Scan(&kind, &name); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if kind != "start" || name != "solemnsky" {
		t.Fatalf("unexpected server row %q %q", kind, name)
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	l := openTestLog(t, path)
	l.RecordServer(0, server.StopEvent())
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l = openTestLog(t, path)
	defer l.Close()
	l.RecordArena(0, arena.QuitEvent("bob"))
	entries, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 2 || entries[1].Seq != 1 {
		t.Fatalf("unexpected entries after reopen %+v", entries)
	}
}

func TestClosedLogRejectsQueries(t *testing.T) {
	l := openTestLog(t, filepath.Join(t.TempDir(), "events.db"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	l.RecordArena(0, arena.JoinEvent("late"))
	if _, err := l.Recent(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
