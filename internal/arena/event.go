package arena

import "fmt"

// EventKind classifies an ArenaEvent.
type EventKind uint8

const (
	EventJoin EventKind = iota
	EventQuit
	EventNickChange
	EventTeamChange
	EventModeChange
	EventEnvChoose
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventQuit:
		return "quit"
	case EventNickChange:
		return "nick_change"
	case EventTeamChange:
		return "team_change"
	case EventModeChange:
		return "mode_change"
	case EventEnvChoose:
		return "env_choose"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// ArenaEvent is a human-meaningful occurrence in the arena, reported to
// every attached ArenaLogger.
type ArenaEvent struct {
	Kind    EventKind `json:"kind"`
	Name    string    `json:"name,omitempty"`
	NewName string    `json:"newName,omitempty"`
	OldTeam Team      `json:"oldTeam,omitempty"`
	NewTeam Team      `json:"newTeam,omitempty"`
	Mode    Mode      `json:"mode,omitempty"`
	Env     string    `json:"env,omitempty"`
}

func JoinEvent(name string) ArenaEvent { return ArenaEvent{Kind: EventJoin, Name: name} }
func QuitEvent(name string) ArenaEvent { return ArenaEvent{Kind: EventQuit, Name: name} }
func ModeChangeEvent(mode Mode) ArenaEvent {
	return ArenaEvent{Kind: EventModeChange, Mode: mode}
}
func EnvChooseEvent(env string) ArenaEvent { return ArenaEvent{Kind: EventEnvChoose, Env: env} }

func NickChangeEvent(name, newName string) ArenaEvent {
	return ArenaEvent{Kind: EventNickChange, Name: name, NewName: newName}
}

func TeamChangeEvent(name string, oldTeam, newTeam Team) ArenaEvent {
	return ArenaEvent{Kind: EventTeamChange, Name: name, OldTeam: oldTeam, NewTeam: newTeam}
}

// String renders the event the way chat consoles show it.
func (e ArenaEvent) String() string {
	switch e.Kind {
	case EventJoin:
		return e.Name + " joined the game"
	case EventQuit:
		return e.Name + " left the game"
	case EventNickChange:
		return e.Name + " changed their name to " + e.NewName
	case EventTeamChange:
		return fmt.Sprintf("%s moved from %s to %s", e.Name, e.OldTeam, e.NewTeam)
	case EventModeChange:
		return "game mode is now " + e.Mode.String()
	case EventEnvChoose:
		return "next environment is " + e.Env
	default:
		return e.Kind.String()
	}
}

// ArenaLogger receives every ArenaEvent.
type ArenaLogger interface {
	OnEvent(event ArenaEvent)
}

// ArenaLoggerFunc adapts a function to ArenaLogger.
type ArenaLoggerFunc func(event ArenaEvent)

func (f ArenaLoggerFunc) OnEvent(event ArenaEvent) { f(event) }
