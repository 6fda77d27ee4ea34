package replaycatalog

import (
	"os"
	"path/filepath"
	"testing"

	"solemnsky/server/internal/replay"
)

func TestListCollectsHeaders(t *testing.T) {
	dir := t.TempDir()
	for _, session := range []string{"bravo", "alpha"} {
		bundle := filepath.Join(dir, session+"-20240710T150000Z")
		header := replay.Header{
			SchemaVersion: replay.HeaderSchemaVersion,
			SessionID:     session,
			ArenaName:     "solemnsky",
			Tuning:        replay.TuningParameters{"maxHealth": 10},
			FilePointer:   "manifest.json",
		}
		if err := replay.WriteHeader(filepath.Join(bundle, "header.json"), header); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
	}
	//1.- A bundle without a header is still being recorded.
	if err := os.MkdirAll(filepath.Join(dir, "live"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Header.SessionID != "alpha" || entries[1].Header.SessionID != "bravo" {
		t.Fatalf("expected entries sorted by session, got %+v", entries)
	}
	want := filepath.Join(dir, "alpha-20240710T150000Z", "manifest.json")
	if entries[0].ManifestPath != want {
		t.Fatalf("unexpected manifest path: %q", entries[0].ManifestPath)
	}

	payload, err := MarshalEntries(entries)
	if err != nil || len(payload) == 0 {
		t.Fatalf("MarshalEntries: %v", err)
	}
}

func TestListRejectsBadRoots(t *testing.T) {
	if _, err := List(" "); err == nil {
		t.Fatalf("expected error for blank root")
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := List(file); err == nil {
		t.Fatalf("expected error for non-directory root")
	}
}
