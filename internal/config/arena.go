package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ArenaFile describes the persistent identity of an arena: what it is
// called, what players see when they join and which environment the first
// game runs on.
type ArenaFile struct {
	Name             string             `yaml:"name"`
	Motd             string             `yaml:"motd"`
	NextEnv          string             `yaml:"next_env"`
	TeamCount        int                `yaml:"team_count"`
	ScoreLimit       int                `yaml:"score_limit"`
	ScoreboardFields []string           `yaml:"scoreboard_fields"`
	Tuning           map[string]float64 `yaml:"tuning"`
}

// DefaultArenaFile is used when no arena file is configured.
func DefaultArenaFile() ArenaFile {
	return ArenaFile{
		Name:             "solemnsky server",
		Motd:             "welcome to solemnsky",
		NextEnv:          "default",
		TeamCount:        2,
		ScoreLimit:       10,
		ScoreboardFields: []string{"kills", "deaths"},
	}
}

// LoadArena reads an arena file. An empty path or a missing file yields the
// defaults; fields left out of the file keep their default values.
func LoadArena(path string) (ArenaFile, error) {
	arena := DefaultArenaFile()
	if strings.TrimSpace(path) == "" {
		return arena, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return arena, nil
		}
		return arena, err
	}
	if err := yaml.Unmarshal(raw, &arena); err != nil {
		return arena, fmt.Errorf("arena file %s: %w", path, err)
	}
	if arena.TeamCount < 0 || arena.TeamCount > 2 {
		return arena, fmt.Errorf("arena file %s: team_count must be within [0, 2], got %d", path, arena.TeamCount)
	}
	if arena.ScoreLimit < 0 {
		return arena, fmt.Errorf("arena file %s: score_limit must be non-negative", path)
	}
	if strings.TrimSpace(arena.NextEnv) == "" {
		arena.NextEnv = DefaultArenaFile().NextEnv
	}
	return arena, nil
}
