package arena

import "fmt"

// Team a player belongs to. Spectators do not play.
type Team uint8

const (
	TeamSpectator Team = iota
	TeamRed
	TeamBlue

	teamCount
)

// Valid reports whether t is a known team.
func (t Team) Valid() bool { return t < teamCount }

func (t Team) String() string {
	switch t {
	case TeamSpectator:
		return "spectator"
	case TeamRed:
		return "red"
	case TeamBlue:
		return "blue"
	default:
		return fmt.Sprintf("team(%d)", uint8(t))
	}
}

// Mode is the state of the session: Lobby -> Game -> Scoring -> Lobby.
type Mode uint8

const (
	ModeLobby Mode = iota
	ModeGame
	ModeScoring

	modeCount
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m < modeCount }

func (m Mode) String() string {
	switch m {
	case ModeLobby:
		return "lobby"
	case ModeGame:
		return "game"
	case ModeScoring:
		return "scoring"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// MaxTeamCount is the largest supported number of playing teams.
const MaxTeamCount = 2
