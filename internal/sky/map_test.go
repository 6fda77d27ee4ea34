package sky

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"solemnsky/server/internal/arena"
)

func writeMap(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}
}

func TestLoadMapParsesYAML(t *testing.T) {
	dir := t.TempDir()
	writeMap(t, dir, "canyon", `
dimensions: {x: 2000, y: 1000}
settings:
  view_scale: 1.5
spawns:
  - {team: 1, pos: {x: 100, y: 100}}
zones:
  - {pos: {x: 1000, y: 500}, radius: 60, cooldown_rate: 0.2}
home_bases:
  - {pos: {x: 1900, y: 100}, radius: 40, rot: 180, team: 2}
`)

	m, err := LoadMap(dir, "canyon")
	if err != nil {
		t.Fatalf("load map: %v", err)
	}
	if m.Name != "canyon" || m.Dimensions.X != 2000 {
		t.Fatalf("unexpected map %+v", m)
	}
	if m.Settings.ViewScale != 1.5 || m.Settings.Gravity != 1 {
		t.Fatalf("settings should keep defaults for missing keys: %+v", m.Settings)
	}
	if len(m.Zones) != 1 || m.Zones[0].CooldownRate != 0.2 {
		t.Fatalf("unexpected zones %+v", m.Zones)
	}
	if len(m.HomeBases) != 1 || m.HomeBases[0].Team != arena.TeamBlue {
		t.Fatalf("unexpected home bases %+v", m.HomeBases)
	}
}

func TestLoadMapErrors(t *testing.T) {
	dir := t.TempDir()
	writeMap(t, dir, "broken", "dimensions: [")
	writeMap(t, dir, "flat", "dimensions: {x: 0, y: 100}")

	if _, err := LoadMap(dir, "missing"); !errors.Is(err, ErrMapNotFound) {
		t.Fatalf("expected ErrMapNotFound, got %v", err)
	}
	if _, err := LoadMap(dir, "../etc/passwd"); !errors.Is(err, ErrMapNotFound) {
		t.Fatalf("path names must be rejected, got %v", err)
	}
	if _, err := LoadMap(dir, "broken"); err == nil || errors.Is(err, ErrMapNotFound) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := LoadMap(dir, "flat"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestDirLoaderFallsBackToDefault(t *testing.T) {
	load := DirLoader(t.TempDir())
	m, err := load(DefaultMapName)
	if err != nil || m.Name != DefaultMapName {
		t.Fatalf("expected built-in map, got %+v, %v", m, err)
	}
	if _, err := load("other"); !errors.Is(err, ErrMapNotFound) {
		t.Fatalf("expected ErrMapNotFound, got %v", err)
	}
}

func TestMapSpawnPointFallsBackToSpectator(t *testing.T) {
	m := DefaultMap()
	m.Spawns = []SpawnPoint{{Team: arena.TeamSpectator, Pos: m.Dimensions.Scale(0.25)}}

	if got := m.SpawnPoint(arena.TeamRed, 3); got.Pos != m.Dimensions.Scale(0.25) {
		t.Fatalf("expected shared spawn, got %+v", got)
	}
	m.Spawns = nil
	if got := m.SpawnPoint(arena.TeamRed, 0); got.Pos != m.Dimensions.Scale(0.5) {
		t.Fatalf("expected map centre, got %+v", got)
	}
}
