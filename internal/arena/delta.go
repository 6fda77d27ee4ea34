package arena

import (
	"fmt"
	"time"

	"solemnsky/server/internal/networked"
)

// ArenaInit is the full description of an arena handed to joining clients.
type ArenaInit struct {
	Players   map[networked.PID]PlayerInit `json:"players"`
	Name      string                       `json:"name"`
	Motd      string                       `json:"motd"`
	NextEnv   string                       `json:"nextEnv"`
	Mode      Mode                         `json:"mode"`
	Uptime    time.Duration                `json:"uptime"`
	TeamCount uint8                        `json:"teamCount"`
}

// VerifyStructure checks every enum and the keying of the player table.
func (i ArenaInit) VerifyStructure() bool {
	if !i.Mode.Valid() || i.TeamCount > MaxTeamCount {
		return false
	}
	for pid, player := range i.Players {
		if pid != player.PID || !player.VerifyStructure() {
			return false
		}
	}
	return true
}

// ArenaDeltaKind tags the payload carried by an ArenaDelta.
type ArenaDeltaKind uint8

const (
	DeltaQuit ArenaDeltaKind = iota
	DeltaJoin
	DeltaPlayers
	DeltaResetEnvLoad
	DeltaMotd
	DeltaMode
	DeltaEnvChange
	DeltaTeamCount

	deltaKindCount
)

// Valid reports whether k is a known kind.
func (k ArenaDeltaKind) Valid() bool { return k < deltaKindCount }

func (k ArenaDeltaKind) String() string {
	switch k {
	case DeltaQuit:
		return "quit"
	case DeltaJoin:
		return "join"
	case DeltaPlayers:
		return "delta"
	case DeltaResetEnvLoad:
		return "reset_env_load"
	case DeltaMotd:
		return "motd"
	case DeltaMode:
		return "mode"
	case DeltaEnvChange:
		return "env_change"
	case DeltaTeamCount:
		return "team_count"
	default:
		return fmt.Sprintf("arena_delta(%d)", uint8(k))
	}
}

// ArenaDelta carries exactly one change to an arena. Only the payload
// matching Kind is meaningful.
type ArenaDelta struct {
	Kind      ArenaDeltaKind                `json:"kind"`
	Quit      *networked.PID                `json:"quit,omitempty"`
	Join      *PlayerInit                   `json:"join,omitempty"`
	Players   map[networked.PID]PlayerDelta `json:"players,omitempty"`
	Motd      *string                       `json:"motd,omitempty"`
	Mode      *Mode                         `json:"mode,omitempty"`
	Env       *string                       `json:"env,omitempty"`
	TeamCount *uint8                        `json:"teamCount,omitempty"`
}

func QuitDelta(pid networked.PID) ArenaDelta {
	return ArenaDelta{Kind: DeltaQuit, Quit: &pid}
}

func JoinDelta(init PlayerInit) ArenaDelta {
	return ArenaDelta{Kind: DeltaJoin, Join: &init}
}

func PlayersDelta(deltas map[networked.PID]PlayerDelta) ArenaDelta {
	if deltas == nil {
		deltas = make(map[networked.PID]PlayerDelta)
	}
	return ArenaDelta{Kind: DeltaPlayers, Players: deltas}
}

// PlayerDeltaFor wraps a single player change.
func PlayerDeltaFor(pid networked.PID, delta PlayerDelta) ArenaDelta {
	return PlayersDelta(map[networked.PID]PlayerDelta{pid: delta})
}

func ResetEnvLoadDelta() ArenaDelta { return ArenaDelta{Kind: DeltaResetEnvLoad} }

func MotdDelta(motd string) ArenaDelta {
	return ArenaDelta{Kind: DeltaMotd, Motd: &motd}
}

func ModeDelta(mode Mode) ArenaDelta {
	return ArenaDelta{Kind: DeltaMode, Mode: &mode}
}

func EnvChangeDelta(env string) ArenaDelta {
	return ArenaDelta{Kind: DeltaEnvChange, Env: &env}
}

func TeamCountDelta(count uint8) ArenaDelta {
	return ArenaDelta{Kind: DeltaTeamCount, TeamCount: &count}
}

// VerifyStructure reports whether the payload required by Kind is present
// and every enum it carries is in range.
func (d ArenaDelta) VerifyStructure() bool {
	switch d.Kind {
	case DeltaQuit:
		return d.Quit != nil
	case DeltaJoin:
		return d.Join != nil && d.Join.VerifyStructure()
	case DeltaPlayers:
		return d.Players != nil && networked.VerifyMap(d.Players)
	case DeltaResetEnvLoad:
		return true
	case DeltaMotd:
		return d.Motd != nil
	case DeltaMode:
		return d.Mode != nil && d.Mode.Valid()
	case DeltaEnvChange:
		return d.Env != nil
	case DeltaTeamCount:
		return d.TeamCount != nil && *d.TeamCount <= MaxTeamCount
	default:
		return false
	}
}
