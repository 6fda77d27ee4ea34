package arena

import (
	"time"

	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
)

// Listener receives every arena callback. Subsystems embed BaseListener and
// override the callbacks they care about.
type Listener interface {
	// RegisterPlayer is called before any other callback concerning p, both
	// when p joins and when the subsystem attaches to an arena p is already in.
	RegisterPlayer(p *Player)
	// UnregisterPlayer is the last callback concerning p.
	UnregisterPlayer(p *Player)

	OnPoll()
	OnTick(delta time.Duration)
	OnDebugRefresh()

	OnJoin(p *Player)
	OnQuit(p *Player)
	OnMode(mode Mode)
	OnMapChange()
	OnDelta(p *Player, delta PlayerDelta)

	OnAction(p *Player, action plane.Action, state bool)
	OnSpawn(p *Player, tuning plane.Tuning, pos physics.Vec2, rot float64)
	OnKill(p *Player)
	OnStartGame()
	OnEndGame()
}

// BaseListener implements Listener with no-ops.
type BaseListener struct{}

func (BaseListener) RegisterPlayer(*Player)                               {}
func (BaseListener) UnregisterPlayer(*Player)                             {}
func (BaseListener) OnPoll()                                              {}
func (BaseListener) OnTick(time.Duration)                                 {}
func (BaseListener) OnDebugRefresh()                                      {}
func (BaseListener) OnJoin(*Player)                                       {}
func (BaseListener) OnQuit(*Player)                                       {}
func (BaseListener) OnMode(Mode)                                          {}
func (BaseListener) OnMapChange()                                         {}
func (BaseListener) OnDelta(*Player, PlayerDelta)                         {}
func (BaseListener) OnAction(*Player, plane.Action, bool)                 {}
func (BaseListener) OnSpawn(*Player, plane.Tuning, physics.Vec2, float64) {}
func (BaseListener) OnKill(*Player)                                       {}
func (BaseListener) OnStartGame()                                         {}
func (BaseListener) OnEndGame()                                           {}

// Subsystem ties a Listener to an arena and gives it a typed slot of
// per-player data. Embed it by value and call Attach once the embedding
// struct is ready to receive callbacks.
type Subsystem[T any] struct {
	arena    *Arena
	id       networked.PID
	attached bool
}

// Attach registers listener with a under the smallest unused subsystem id
// and replays RegisterPlayer for every player already present.
func (s *Subsystem[T]) Attach(a *Arena, listener Listener) {
	if s.attached {
		s.Close()
	}
	//1.- Reserve the id first so RegisterPlayer callbacks can store data.
	s.arena = a
	s.id = networked.SmallestUnused(a.subsystems)
	s.attached = true
	a.subsystems[s.id] = &registration{listener: listener}

	//2.- Catch the listener up with the current roster.
	for _, p := range a.Players() {
		listener.RegisterPlayer(p)
	}
}

// Close detaches the subsystem, dropping its per-player data. Its id becomes
// available to the next Attach.
func (s *Subsystem[T]) Close() {
	if s == nil || !s.attached {
		return
	}
	for _, p := range s.arena.players {
		delete(p.data, s.id)
	}
	delete(s.arena.subsystems, s.id)
	s.attached = false
}

// Arena returns the arena the subsystem is attached to.
func (s *Subsystem[T]) Arena() *Arena { return s.arena }

// ID returns the registration index, valid while attached.
func (s *Subsystem[T]) ID() networked.PID { return s.id }

// Attached reports whether the subsystem currently receives callbacks.
func (s *Subsystem[T]) Attached() bool { return s != nil && s.attached }

// SetPlayerData stores data in p's slot for this subsystem.
func (s *Subsystem[T]) SetPlayerData(p *Player, data *T) {
	p.data[s.id] = data
}

// PlayerData returns this subsystem's data for p, or nil when none is set.
func (s *Subsystem[T]) PlayerData(p *Player) *T {
	data, _ := p.data[s.id].(*T)
	return data
}

// ClearPlayerData empties p's slot for this subsystem.
func (s *Subsystem[T]) ClearPlayerData(p *Player) {
	delete(p.data, s.id)
}
