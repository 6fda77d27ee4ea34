package sky

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/physics"
)

// DefaultMapName names the built-in map used when no file provides it.
const DefaultMapName = "default"

// ErrMapNotFound reports a map name with no file behind it.
var ErrMapNotFound = errors.New("map not found")

// SpawnPoint is a place planes of a team start from. TeamSpectator spawn
// points serve every team.
type SpawnPoint struct {
	Team arena.Team   `json:"team" yaml:"team"`
	Pos  physics.Vec2 `json:"pos" yaml:"pos"`
	Rot  float64      `json:"rot" yaml:"rot"`
}

// Map is a named environment: the world rectangle, starting settings and
// the static components placed at game start.
type Map struct {
	Name       string          `json:"name" yaml:"name"`
	Dimensions physics.Vec2    `json:"dimensions" yaml:"dimensions"`
	Settings   SkySettingsData `json:"settings" yaml:"settings"`
	Spawns     []SpawnPoint    `json:"spawns" yaml:"spawns"`
	Zones      []ZoneInit      `json:"zones" yaml:"zones"`
	HomeBases  []HomeBaseInit  `json:"homeBases" yaml:"home_bases"`
}

// DefaultMap is the built-in arena: an open rectangle with a spawn per team
// and a recharge zone in the middle.
func DefaultMap() *Map {
	return &Map{
		Name:       DefaultMapName,
		Dimensions: physics.Vec2{X: 1600, Y: 900},
		Settings:   DefaultSkySettings(),
		Spawns: []SpawnPoint{
			{Team: arena.TeamSpectator, Pos: physics.Vec2{X: 800, Y: 200}},
			{Team: arena.TeamRed, Pos: physics.Vec2{X: 200, Y: 200}},
			{Team: arena.TeamBlue, Pos: physics.Vec2{X: 1400, Y: 200}, Rot: 180},
		},
		Zones: []ZoneInit{
			{Pos: physics.Vec2{X: 800, Y: 450}, Radius: 80, CooldownRate: 0.1},
		},
	}
}

// Validate checks a map read from disk.
func (m *Map) Validate() error {
	var problems []string
	if m.Dimensions.X <= 0 || m.Dimensions.Y <= 0 {
		problems = append(problems, "dimensions must be positive")
	}
	if !m.Settings.VerifyStructure() {
		problems = append(problems, "settings.view_scale must be positive")
	}
	for i, spawn := range m.Spawns {
		if !spawn.Team.Valid() {
			problems = append(problems, fmt.Sprintf("spawns[%d]: unknown team %d", i, spawn.Team))
		}
	}
	for i, zone := range m.Zones {
		if !zone.VerifyStructure() {
			problems = append(problems, fmt.Sprintf("zones[%d]: invalid zone", i))
		}
	}
	for i, base := range m.HomeBases {
		if !base.VerifyStructure() {
			problems = append(problems, fmt.Sprintf("home_bases[%d]: invalid home base", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("map %q: %s", m.Name, strings.Join(problems, "; "))
	}
	return nil
}

// SpawnPoint picks the n-th spawn point usable by team, falling back to the
// middle of the map when none is configured.
func (m *Map) SpawnPoint(team arena.Team, n int) SpawnPoint {
	var candidates []SpawnPoint
	for _, spawn := range m.Spawns {
		if spawn.Team == team {
			candidates = append(candidates, spawn)
		}
	}
	if len(candidates) == 0 {
		for _, spawn := range m.Spawns {
			if spawn.Team == arena.TeamSpectator {
				candidates = append(candidates, spawn)
			}
		}
	}
	if len(candidates) == 0 {
		return SpawnPoint{Team: team, Pos: m.Dimensions.Scale(0.5)}
	}
	if n < 0 {
		n = -n
	}
	return candidates[n%len(candidates)]
}

// LoadMap reads dir/name.yaml.
func LoadMap(dir, name string) (*Map, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("map %q: %w", name, ErrMapNotFound)
	}
	raw, err := os.ReadFile(filepath.Join(dir, name+".yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("map %q: %w", name, ErrMapNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read map %q: %w", name, err)
	}

	m := &Map{Settings: DefaultSkySettings()}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("parse map %q: %w", name, err)
	}
	if m.Name == "" {
		m.Name = name
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MapLoader resolves a map name.
type MapLoader func(name string) (*Map, error)

// DirLoader loads maps from dir. The default map is built in and only read
// from dir when a file overrides it.
func DirLoader(dir string) MapLoader {
	return func(name string) (*Map, error) {
		m, err := LoadMap(dir, name)
		if errors.Is(err, ErrMapNotFound) && name == DefaultMapName {
			return DefaultMap(), nil
		}
		return m, err
	}
}
