package arena

import (
	"time"

	"solemnsky/server/internal/flowcontrol"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
)

// ConnectionStats describes a player's link to the server. Once a player
// has stats they are only ever replaced, never cleared.
type ConnectionStats struct {
	Latency     time.Duration         `json:"latency"`
	ClockOffset time.Duration         `json:"clockOffset"`
	Flow        flowcontrol.FlowStats `json:"flow"`
}

// PlayerInit is the full description of a player.
type PlayerInit struct {
	PID        networked.PID    `json:"pid"`
	Nickname   string           `json:"nickname"`
	Admin      bool             `json:"admin"`
	Team       Team             `json:"team"`
	LoadingEnv bool             `json:"loadingEnv"`
	Stats      *ConnectionStats `json:"stats,omitempty"`
}

// VerifyStructure rejects unknown teams.
func (i PlayerInit) VerifyStructure() bool { return i.Team.Valid() }

// PlayerDelta changes a player. Nil pointers leave a field untouched; the
// two flags are always carried.
type PlayerDelta struct {
	Nickname   *string          `json:"nickname,omitempty"`
	Admin      bool             `json:"admin"`
	LoadingEnv bool             `json:"loadingEnv"`
	Team       *Team            `json:"team,omitempty"`
	Stats      *ConnectionStats `json:"stats,omitempty"`
}

// VerifyStructure rejects unknown teams.
func (d PlayerDelta) VerifyStructure() bool { return d.Team == nil || d.Team.Valid() }

// Player is a connected participant. Players are owned by their Arena.
type Player struct {
	arena *Arena
	pid   networked.PID

	nickname   string
	admin      bool
	team       Team
	loadingEnv bool
	stats      *ConnectionStats

	// data holds one opaque slot per attached subsystem, keyed by the
	// subsystem's registration id.
	data map[networked.PID]any
}

func newPlayer(arena *Arena, init PlayerInit) *Player {
	p := &Player{
		arena:      arena,
		pid:        init.PID,
		nickname:   init.Nickname,
		admin:      init.Admin,
		team:       init.Team,
		loadingEnv: init.LoadingEnv,
		data:       make(map[networked.PID]any),
	}
	if init.Stats != nil {
		stats := *init.Stats
		p.stats = &stats
	}
	return p
}

// PID identifies the player within its arena.
func (p *Player) PID() networked.PID { return p.pid }

// Nickname is unique within the arena.
func (p *Player) Nickname() string { return p.nickname }

// Admin reports whether the player may issue rcon commands.
func (p *Player) Admin() bool { return p.admin }

// Team is the player's team, or the spectator team.
func (p *Player) Team() Team { return p.team }

// LoadingEnv is set while the player has not yet loaded the sky's map.
func (p *Player) LoadingEnv() bool { return p.loadingEnv }

// Arena returns the owning arena.
func (p *Player) Arena() *Arena { return p.arena }

// Stats returns a copy of the connection statistics, if any arrived yet.
func (p *Player) Stats() (ConnectionStats, bool) {
	if p.stats == nil {
		return ConnectionStats{}, false
	}
	return *p.stats, true
}

// CaptureInitializer describes the player in full.
func (p *Player) CaptureInitializer() PlayerInit {
	init := PlayerInit{
		PID:        p.pid,
		Nickname:   p.nickname,
		Admin:      p.admin,
		Team:       p.team,
		LoadingEnv: p.loadingEnv,
	}
	if p.stats != nil {
		stats := *p.stats
		init.Stats = &stats
	}
	return init
}

// ZeroDelta is a delta whose application changes nothing. Callers set the
// fields they want to change on top of it.
func (p *Player) ZeroDelta() PlayerDelta {
	return PlayerDelta{Admin: p.admin, LoadingEnv: p.loadingEnv}
}

// ApplyDelta mutates the player. Subsystems see the delta before it lands.
func (p *Player) ApplyDelta(delta PlayerDelta) {
	if p.arena != nil {
		p.arena.forSubsystems(func(l Listener) { l.OnDelta(p, delta) })
	}

	oldNick, oldTeam := p.nickname, p.team
	if delta.Nickname != nil {
		p.nickname = *delta.Nickname
	}
	p.admin = delta.Admin
	p.loadingEnv = delta.LoadingEnv
	if delta.Team != nil {
		p.team = *delta.Team
	}
	if delta.Stats != nil {
		stats := *delta.Stats
		p.stats = &stats
	}

	if p.arena == nil {
		return
	}
	if p.nickname != oldNick {
		p.arena.logEvent(NickChangeEvent(oldNick, p.nickname))
	}
	if p.team != oldTeam {
		p.arena.logEvent(TeamChangeEvent(p.nickname, oldTeam, p.team))
	}
}

// DoAction forwards a control change to every subsystem.
func (p *Player) DoAction(action plane.Action, state bool) {
	p.arena.DoAction(p, action, state)
}

// Spawn asks the subsystems to put the player's plane in the sky.
func (p *Player) Spawn(tuning plane.Tuning, pos physics.Vec2, rot float64) {
	p.arena.DoSpawn(p, tuning, pos, rot)
}
