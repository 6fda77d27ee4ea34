// Package arena holds the player roster and session state shared by server
// and client, and dispatches arena events to attached subsystems.
package arena

import (
	"sort"
	"time"

	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
)

// DebugRefreshPeriod separates two OnDebugRefresh callbacks.
const DebugRefreshPeriod = 2 * time.Second

// Arena is the authoritative roster. It is not safe for concurrent use; the
// server and client loops own their arena exclusively.
type Arena struct {
	log *logging.Logger

	players    map[networked.PID]*Player
	subsystems map[networked.PID]*registration
	sinks      map[int]ArenaLogger
	nextSink   int

	name      string
	motd      string
	nextEnv   string
	mode      Mode
	uptime    time.Duration
	teamCount uint8

	debugTimer Cooldown

	clientPID *networked.PID
}

// Option configures an Arena.
type Option func(*Arena)

// WithLogger routes arena logs and events to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(a *Arena) {
		if logger != nil {
			a.log = logger
		}
	}
}

// AsClient marks the arena as a client mirror controlling pid.
func AsClient(pid networked.PID) Option {
	return func(a *Arena) {
		a.clientPID = &pid
	}
}

// NewArena materialises an arena from its initializer. Subsystems attach
// afterwards and receive RegisterPlayer for the initial players.
func NewArena(init ArenaInit, opts ...Option) *Arena {
	a := &Arena{
		log:        logging.L(),
		players:    make(map[networked.PID]*Player, len(init.Players)),
		subsystems: make(map[networked.PID]*registration),
		sinks:      make(map[int]ArenaLogger),
		name:       init.Name,
		motd:       init.Motd,
		nextEnv:    init.NextEnv,
		mode:       init.Mode,
		uptime:     init.Uptime,
		teamCount:  init.TeamCount,
		debugTimer: NewCooldown(DebugRefreshPeriod),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.Named(logging.OriginEngine, "arena")
	for pid, player := range init.Players {
		player.PID = pid
		a.players[pid] = newPlayer(a, player)
	}
	return a
}

// Name is the arena's display name.
func (a *Arena) Name() string { return a.name }

// Motd is the message shown to players on join.
func (a *Arena) Motd() string { return a.motd }

// NextEnv names the map loaded by the next game.
func (a *Arena) NextEnv() string { return a.nextEnv }

// Mode reports whether the arena is in the lobby, a game or the scoring
// screen.
func (a *Arena) Mode() Mode { return a.mode }

// Uptime is the total time passed to Tick.
func (a *Arena) Uptime() time.Duration { return a.uptime }

// TeamCount is the number of playing teams. With zero, new players join as
// spectators.
func (a *Arena) TeamCount() uint8 { return a.teamCount }

// ServerResponsible reports whether this arena makes authoritative
// decisions, such as removing destroyed sky components.
func (a *Arena) ServerResponsible() bool { return a.clientPID == nil }

// ClientPID returns the player a client mirror controls.
func (a *Arena) ClientPID() (networked.PID, bool) {
	if a.clientPID == nil {
		return 0, false
	}
	return *a.clientPID, true
}

// GetPlayer returns the player with pid, or nil.
func (a *Arena) GetPlayer(pid networked.PID) *Player {
	return a.players[pid]
}

// Players returns the current roster sorted by PID.
func (a *Arena) Players() []*Player {
	pids := networked.SortedPIDs(a.players)
	players := make([]*Player, 0, len(pids))
	for _, pid := range pids {
		players = append(players, a.players[pid])
	}
	return players
}

// ForPlayers visits the roster as it was when the call started. Players
// that leave during the walk are skipped.
func (a *Arena) ForPlayers(fn func(p *Player)) {
	for _, p := range a.Players() {
		if a.players[p.pid] != p {
			continue
		}
		fn(p)
	}
}

// CaptureInitializer describes the arena in full.
func (a *Arena) CaptureInitializer() ArenaInit {
	init := ArenaInit{
		Players:   make(map[networked.PID]PlayerInit, len(a.players)),
		Name:      a.name,
		Motd:      a.motd,
		NextEnv:   a.nextEnv,
		Mode:      a.mode,
		Uptime:    a.uptime,
		TeamCount: a.teamCount,
	}
	for pid, p := range a.players {
		init.Players[pid] = p.CaptureInitializer()
	}
	return init
}

// AttachLogger registers sink for every future ArenaEvent. The returned
// function detaches it.
func (a *Arena) AttachLogger(sink ArenaLogger) func() {
	id := a.nextSink
	a.nextSink++
	a.sinks[id] = sink
	return func() { delete(a.sinks, id) }
}

// ConnectPlayer admits a new player on the server and returns the Join
// delta that describes it to everyone else.
func (a *Arena) ConnectPlayer(requestedNick string) ArenaDelta {
	init := PlayerInit{
		PID:      networked.SmallestUnused(a.players),
		Nickname: a.AllocNickname(requestedNick, nil),
		Team:     a.autojoinTeam(),
	}
	a.joinPlayer(init)
	return JoinDelta(init)
}

// QuitPlayer builds the delta removing p.
func (a *Arena) QuitPlayer(p *Player) ArenaDelta {
	return QuitDelta(p.pid)
}

// ApplyDelta applies one arena change. Deltas addressing players that are
// no longer present are ignored.
func (a *Arena) ApplyDelta(delta ArenaDelta) {
	switch delta.Kind {
	case DeltaQuit:
		if delta.Quit == nil {
			return
		}
		if p := a.players[*delta.Quit]; p != nil {
			a.quitPlayer(p)
		}
	case DeltaJoin:
		if delta.Join != nil {
			a.joinPlayer(*delta.Join)
		}
	case DeltaPlayers:
		for _, pid := range networked.SortedPIDs(delta.Players) {
			if p := a.players[pid]; p != nil {
				p.ApplyDelta(delta.Players[pid])
			}
		}
	case DeltaResetEnvLoad:
		for _, p := range a.players {
			p.loadingEnv = true
		}
	case DeltaMotd:
		if delta.Motd != nil {
			a.motd = *delta.Motd
		}
	case DeltaMode:
		if delta.Mode == nil || *delta.Mode == a.mode {
			return
		}
		a.mode = *delta.Mode
		a.logEvent(ModeChangeEvent(a.mode))
		mode := a.mode
		a.forSubsystems(func(l Listener) { l.OnMode(mode) })
	case DeltaEnvChange:
		if delta.Env == nil {
			return
		}
		a.nextEnv = *delta.Env
		a.logEvent(EnvChooseEvent(a.nextEnv))
		a.forSubsystems(func(l Listener) { l.OnMapChange() })
	case DeltaTeamCount:
		if delta.TeamCount != nil {
			a.teamCount = *delta.TeamCount
		}
	default:
		a.log.Warn("ignoring arena delta of unknown kind", logging.Int("kind", int(delta.Kind)))
	}
}

// Poll fires OnPoll on every subsystem.
func (a *Arena) Poll() {
	a.forSubsystems(func(l Listener) { l.OnPoll() })
}

// Tick advances the arena clock by delta.
func (a *Arena) Tick(delta time.Duration) {
	a.uptime += delta
	if a.debugTimer.Tick(delta) {
		a.forSubsystems(func(l Listener) { l.OnDebugRefresh() })
	}
	a.forSubsystems(func(l Listener) { l.OnTick(delta) })
}

// DoAction forwards a control change of p to every subsystem.
func (a *Arena) DoAction(p *Player, action plane.Action, state bool) {
	a.forSubsystems(func(l Listener) { l.OnAction(p, action, state) })
}

// DoSpawn asks every subsystem to spawn p.
func (a *Arena) DoSpawn(p *Player, tuning plane.Tuning, pos physics.Vec2, rot float64) {
	a.forSubsystems(func(l Listener) { l.OnSpawn(p, tuning, pos, rot) })
}

// DoKill notifies every subsystem that p died.
func (a *Arena) DoKill(p *Player) {
	a.forSubsystems(func(l Listener) { l.OnKill(p) })
}

// DoStartGame tells every subsystem that a game begins.
func (a *Arena) DoStartGame() {
	a.forSubsystems(func(l Listener) { l.OnStartGame() })
}

// DoEndGame tells every subsystem that the running game is over.
func (a *Arena) DoEndGame() {
	a.forSubsystems(func(l Listener) { l.OnEndGame() })
}

func (a *Arena) joinPlayer(init PlayerInit) *Player {
	//1.- A join for a PID in use replaces the previous holder.
	if old := a.players[init.PID]; old != nil {
		a.quitPlayer(old)
	}

	p := newPlayer(a, init)
	a.players[init.PID] = p

	//2.- Every subsystem learns about the player before anyone reacts to the join.
	a.forSubsystems(func(l Listener) { l.RegisterPlayer(p) })
	a.forSubsystems(func(l Listener) { l.OnJoin(p) })

	a.logEvent(JoinEvent(p.nickname))
	return p
}

func (a *Arena) quitPlayer(p *Player) {
	a.forSubsystems(func(l Listener) { l.OnQuit(p) })
	a.forSubsystems(func(l Listener) { l.UnregisterPlayer(p) })

	delete(a.players, p.pid)
	a.logEvent(QuitEvent(p.nickname))
}

// autojoinTeam picks the playing team with fewer members, Red on ties.
func (a *Arena) autojoinTeam() Team {
	if a.teamCount == 0 {
		return TeamSpectator
	}
	if a.teamCount == 1 {
		return TeamRed
	}
	var red, blue int
	for _, p := range a.players {
		switch p.team {
		case TeamRed:
			red++
		case TeamBlue:
			blue++
		}
	}
	if blue < red {
		return TeamBlue
	}
	return TeamRed
}

// forSubsystems calls fn on the subsystems attached when the dispatch
// started, skipping any that detach along the way.
func (a *Arena) forSubsystems(fn func(l Listener)) {
	ids := networked.SortedPIDs(a.subsystems)
	snapshot := make([]*registration, len(ids))
	for i, id := range ids {
		snapshot[i] = a.subsystems[id]
	}
	for i, id := range ids {
		if a.subsystems[id] != snapshot[i] {
			continue
		}
		fn(snapshot[i].listener)
	}
}

type registration struct {
	listener Listener
}

func (a *Arena) logEvent(event ArenaEvent) {
	a.log.Info(event.String(), logging.String("event", event.Kind.String()))
	for _, id := range sortedSinkIDs(a.sinks) {
		if sink, ok := a.sinks[id]; ok {
			sink.OnEvent(event)
		}
	}
}

func sortedSinkIDs(sinks map[int]ArenaLogger) []int {
	ids := make([]int, 0, len(sinks))
	for id := range sinks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
