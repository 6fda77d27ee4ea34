package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/flowcontrol"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/simulation"
	"solemnsky/server/internal/telegraph"
)

const (
	DefaultTickHz                = 60.0
	DefaultSkyDeltaInterval      = 33 * time.Millisecond
	DefaultScoreDeltaInterval    = 500 * time.Millisecond
	DefaultPingInterval          = time.Second
	DefaultLatencyUpdateInterval = 2 * time.Second
	DefaultChatRate              = 2.0
	DefaultChatBurst             = 5
)

// Scheduler runs an action every interval of simulated time.
type Scheduler struct {
	cooldown arena.Cooldown
	action   func()
}

func NewScheduler(interval time.Duration, action func()) *Scheduler {
	return &Scheduler{cooldown: arena.NewCooldown(interval), action: action}
}

// Tick advances the schedule and runs the action when it is due.
func (s *Scheduler) Tick(delta time.Duration) {
	if s.cooldown.Tick(delta) {
		s.action()
	}
}

// ExecOptions configures the executor. Zero values take the defaults.
type ExecOptions struct {
	Logger *logging.Logger
	// Address is reported in the start event.
	Address string

	TickHz                float64
	SkyDeltaInterval      time.Duration
	ScoreDeltaInterval    time.Duration
	PingInterval          time.Duration
	LatencyUpdateInterval time.Duration

	// ChatRate and ChatBurst bound the chat and rcon messages of one peer.
	ChatRate  float64
	ChatBurst int

	Flow    flowcontrol.Settings
	Monitor *simulation.TickMonitor

	// Clock feeds the chat limiters. Defaults to time.Now.
	Clock func() time.Time
}

func (o *ExecOptions) normalise() {
	if o.Logger == nil {
		o.Logger = logging.L()
	}
	if o.TickHz <= 0 {
		o.TickHz = DefaultTickHz
	}
	if o.SkyDeltaInterval <= 0 {
		o.SkyDeltaInterval = DefaultSkyDeltaInterval
	}
	if o.ScoreDeltaInterval <= 0 {
		o.ScoreDeltaInterval = DefaultScoreDeltaInterval
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.LatencyUpdateInterval <= 0 {
		o.LatencyUpdateInterval = DefaultLatencyUpdateInterval
	}
	if o.ChatRate <= 0 {
		o.ChatRate = DefaultChatRate
	}
	if o.ChatBurst <= 0 {
		o.ChatBurst = DefaultChatBurst
	}
	if o.Flow == (flowcontrol.Settings{}) {
		o.Flow = flowcontrol.DefaultSettings()
	}
	if o.Monitor == nil {
		o.Monitor = simulation.NewTickMonitor()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// PlayerStats describes one joined player for the stats endpoint.
type PlayerStats struct {
	PID      networked.PID `json:"pid"`
	Nickname string        `json:"nickname"`
	Team     string        `json:"team"`
	Admin    bool          `json:"admin"`
	Latency  time.Duration `json:"latency"`
}

// Stats is a snapshot of the executor, safe to read from any goroutine.
type Stats struct {
	Name      string                         `json:"name"`
	Mode      string                         `json:"mode"`
	Map       string                         `json:"map"`
	Uptime    time.Duration                  `json:"uptime"`
	Peers     int                            `json:"peers"`
	Players   []PlayerStats                  `json:"players"`
	Tick      simulation.TickMetricsSnapshot `json:"tick"`
	Rejected  int64                          `json:"rejected"`
	Throttled int64                          `json:"throttled"`
}

// Exec runs the server: it drains transport events into the arena, steps
// the simulation and broadcasts state on its schedules.
type Exec struct {
	log  *logging.Logger
	opts ExecOptions

	shared   *Shared
	listener Listener
	latency  *LatencyTracker
	inputs   *SkyInputCache

	schedulers []*Scheduler
	chat       map[string]*rate.Limiter
	calls      chan func()

	mu    sync.RWMutex
	stats Stats
}

// NewExec wires an executor around shared with listener as game mode.
func NewExec(shared *Shared, listener Listener, opts ExecOptions) *Exec {
	opts.normalise()
	e := &Exec{
		log:      opts.Logger.Named(logging.OriginServer, "exec"),
		opts:     opts,
		shared:   shared,
		listener: listener,
		latency:  NewLatencyTracker(shared.Arena),
		chat:     make(map[string]*rate.Limiter),
		calls:    make(chan func(), 64),
	}
	e.inputs = NewSkyInputCache(shared.Arena, shared.SkyHandle, opts.Flow)
	e.schedulers = []*Scheduler{
		NewScheduler(opts.SkyDeltaInterval, e.broadcastSky),
		NewScheduler(opts.ScoreDeltaInterval, e.broadcastScore),
		NewScheduler(opts.PingInterval, e.broadcastPing),
		NewScheduler(opts.LatencyUpdateInterval, e.broadcastLatency),
	}
	e.publishStats()
	return e
}

// Shared exposes the state the executor drives.
func (e *Exec) Shared() *Shared { return e.shared }

// Run steps the server until ctx is cancelled. A cancelled context is a
// clean shutdown and returns nil.
func (e *Exec) Run(ctx context.Context) error {
	e.shared.LogEvent(StartEvent(e.shared.Arena.Name(), e.opts.Address))
	loop := simulation.NewLoop(e.opts.TickHz, e.Step, simulation.WithMonitor(e.opts.Monitor))
	err := loop.Run(ctx)
	e.shutdown()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (e *Exec) shutdown() {
	for _, pid := range networked.SortedPIDs(e.shared.peerOf) {
		e.shared.peerOf[pid].Close("server stopping")
	}
	e.shared.LogEvent(StopEvent())
}

// Step runs one simulation step. Run calls it from the server loop; tests
// drive it directly.
func (e *Exec) Step(delta time.Duration) {
	e.runCalls()
	e.poll()
	e.shared.Arena.Poll()
	e.shared.Arena.Tick(delta)
	for _, s := range e.schedulers {
		s.Tick(delta)
	}
	e.publishStats()
}

// Invoke runs fn on the server loop before the next step and waits until
// it has run. Other goroutines use it to read the arena safely.
func (e *Exec) Invoke(ctx context.Context, fn func(*Shared)) error {
	done := make(chan struct{})
	select {
	case e.calls <- func() { fn(e.shared); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Exec) runCalls() {
	for {
		select {
		case call := <-e.calls:
			call()
		default:
			return
		}
	}
}

// poll handles every transport event that is queued.
func (e *Exec) poll() {
	tg := e.shared.Telegraph()
	for {
		ev, ok := tg.Poll()
		if !ok {
			return
		}
		switch ev.Kind {
		case telegraph.EventConnect:
			e.shared.addPeer(ev.Peer)
			e.log.Debug("peer connected", logging.String("peer", ev.Peer.ID()),
				logging.String("addr", ev.Peer.RemoteAddr()))
		case telegraph.EventDisconnect:
			e.disconnect(ev.Peer)
		case telegraph.EventReceive:
			if packet, ok := tg.Receive(ev); ok {
				e.processPacket(ev.Peer, packet)
			}
		}
	}
}

func (e *Exec) disconnect(peer telegraph.Peer) {
	p := e.shared.PlayerFromPeer(peer)
	e.shared.removePeer(peer)
	e.shared.Telegraph().Forget(peer)
	delete(e.chat, peer.ID())
	if p == nil {
		return
	}
	name := p.Nickname()
	e.shared.RegisterArenaDelta(e.shared.Arena.QuitPlayer(p))
	e.shared.LogEvent(DisconnectEvent(name))
}

func (e *Exec) processPacket(peer telegraph.Peer, packet protocol.ClientPacket) {
	p := e.shared.PlayerFromPeer(peer)
	if p == nil {
		if packet.Kind == protocol.ClientReqJoin {
			e.join(peer, *packet.Nickname)
		} else {
			e.log.Debug("ignoring packet before join", logging.String("peer", peer.ID()),
				logging.String("packet", packet.Kind.String()))
		}
		return
	}

	a := e.shared.Arena
	switch packet.Kind {
	case protocol.ClientReqJoin:
		return
	case protocol.ClientPong:
		e.latency.RegisterPong(p, *packet.PingTime, *packet.PongTime)
	case protocol.ClientReqPlayerDelta:
		e.requestDelta(p, *packet.PlayerDelta)
	case protocol.ClientReqTeam:
		team := *packet.Team
		e.requestDelta(p, arena.PlayerDelta{Team: &team})
	case protocol.ClientReqInput:
		e.inputs.Receive(p, *packet.Timestamp, *packet.Input)
	case protocol.ClientReqSky:
		e.shared.SendToClient(peer, protocol.InitSky(e.shared.SkyHandle.CaptureInitializer()))
		if p.LoadingEnv() {
			delta := p.ZeroDelta()
			delta.LoadingEnv = false
			e.shared.RegisterArenaDelta(arena.PlayerDeltaFor(p.PID(), delta))
		}
	case protocol.ClientChat:
		if !e.allowChat(peer) {
			e.shared.SendToClient(peer, protocol.Broadcast("you are sending messages too quickly"))
			return
		}
		e.log.Info("chat", logging.String("player", p.Nickname()), logging.String("text", *packet.Text))
		e.shared.SendToClients(protocol.ServerChatPacket(p.PID(), *packet.Text))
	case protocol.ClientRCon:
		if !e.allowChat(peer) {
			e.shared.RConResponse(peer, "you are sending commands too quickly")
			return
		}
		e.shared.LogEvent(RConInEvent(*packet.Text))
	}

	// The packet may have removed the player.
	if a.GetPlayer(p.PID()) == p && e.listener != nil {
		e.listener.OnPacket(peer, p, packet)
	}
}

func (e *Exec) join(peer telegraph.Peer, nickname string) {
	a := e.shared.Arena
	delta := a.ConnectPlayer(nickname)
	pid := delta.Join.PID
	e.shared.bindPlayer(peer, pid)
	e.shared.SendToClientsExcept(pid, protocol.DeltaArena(delta))
	e.shared.SendToClient(peer, protocol.Init(pid, a.CaptureInitializer(),
		e.shared.SkyHandle.CaptureInitializer(), e.shared.Scoreboard.CaptureInitializer()))
	e.shared.LogEvent(ConnectEvent(delta.Join.Nickname, peer.RemoteAddr()))
}

// requestDelta applies what a client may change about itself: its
// nickname, re-arbitrated against the others, and a team the arena offers.
func (e *Exec) requestDelta(p *arena.Player, requested arena.PlayerDelta) {
	a := e.shared.Arena
	delta := p.ZeroDelta()
	changed := false
	if requested.Nickname != nil {
		pid := p.PID()
		nick := a.AllocNickname(*requested.Nickname, &pid)
		if nick != p.Nickname() {
			delta.Nickname = &nick
			changed = true
		}
	}
	if requested.Team != nil && *requested.Team != p.Team() && teamOffered(a, *requested.Team) {
		team := *requested.Team
		delta.Team = &team
		changed = true
	}
	if changed {
		e.shared.RegisterArenaDelta(arena.PlayerDeltaFor(p.PID(), delta))
	}
}

// teamOffered reports whether players may pick team: spectating always, a
// playing team when the arena has that many.
func teamOffered(a *arena.Arena, team arena.Team) bool {
	return team == arena.TeamSpectator || (team.Valid() && uint8(team) <= a.TeamCount())
}

func (e *Exec) allowChat(peer telegraph.Peer) bool {
	limiter := e.chat[peer.ID()]
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(e.opts.ChatRate), e.opts.ChatBurst)
		e.chat[peer.ID()] = limiter
	}
	return limiter.AllowN(e.opts.Clock(), 1)
}

func (e *Exec) broadcastSky() {
	if delta, ok := e.shared.SkyHandle.CollectDelta(); ok {
		e.shared.SendSkyDelta(delta)
	}
}

func (e *Exec) broadcastScore() {
	if delta, ok := e.shared.Scoreboard.CollectDelta(); ok {
		e.shared.SendToClients(protocol.DeltaScore(delta))
	}
}

func (e *Exec) broadcastPing() {
	e.shared.SendToClients(protocol.Ping(e.shared.Arena.Uptime()))
}

func (e *Exec) broadcastLatency() {
	if delta, ok := e.latency.MakeUpdate(e.inputs); ok {
		e.shared.RegisterArenaDelta(delta)
	}
}

func (e *Exec) publishStats() {
	a := e.shared.Arena
	stats := Stats{
		Name:      a.Name(),
		Mode:      a.Mode().String(),
		Map:       e.shared.SkyHandle.MapName(),
		Uptime:    a.Uptime(),
		Peers:     e.shared.PeerCount(),
		Players:   make([]PlayerStats, 0, len(e.shared.peerOf)),
		Tick:      e.opts.Monitor.Snapshot(),
		Rejected:  e.shared.Telegraph().Rejected(),
		Throttled: e.shared.Telegraph().Throttled(),
	}
	for _, p := range a.Players() {
		entry := PlayerStats{PID: p.PID(), Nickname: p.Nickname(), Team: p.Team().String(), Admin: p.Admin()}
		if l := e.latency.Latency(p); l != nil {
			entry.Latency = l.Latency()
		}
		stats.Players = append(stats.Players, entry)
	}
	e.mu.Lock()
	e.stats = stats
	e.mu.Unlock()
}

// Stats returns the snapshot taken after the last step.
func (e *Exec) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := e.stats
	stats.Players = append([]PlayerStats(nil), e.stats.Players...)
	return stats
}
