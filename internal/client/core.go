// Package client mirrors a server session: it joins, keeps a replica of the
// arena, sky and scoreboard, and sends the local player's input back.
package client

import (
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/flowcontrol"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/scoreboard"
	"solemnsky/server/internal/sky"
	"solemnsky/server/internal/telegraph"
)

// DefaultInputInterval separates two input reports of a spawned plane.
const DefaultInputInterval = 33 * time.Millisecond

// DefaultFlowSettings is the jitter buffer in front of the sky. Reliable
// and unreliable deltas may overtake each other, so late ones are slotted
// in rather than dropped.
func DefaultFlowSettings() flowcontrol.Settings {
	settings := flowcontrol.DefaultSettings()
	settings.OutOfOrder = flowcontrol.PolicyReorder
	return settings
}

// ClientTelegraph reads server packets and sends client packets.
type ClientTelegraph = telegraph.Telegraph[protocol.ServerPacket, protocol.ClientPacket]

// EventKind classifies what the core heard from the server.
type EventKind uint8

const (
	EventChat EventKind = iota
	EventBroadcast
	EventRCon
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventChat:
		return "chat"
	case EventBroadcast:
		return "broadcast"
	case EventRCon:
		return "rcon"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is a line of the client's message log.
type Event struct {
	Kind EventKind
	// From is the speaker of a chat line.
	From *networked.PID
	Text string
}

type options struct {
	logger        *logging.Logger
	loader        sky.MapLoader
	flow          flowcontrol.Settings
	inputInterval time.Duration
}

// Option configures a Core.
type Option func(*options)

func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMapLoader resolves the maps the server starts.
func WithMapLoader(loader sky.MapLoader) Option {
	return func(o *options) { o.loader = loader }
}

// WithFlowSettings tunes the jitter buffer in front of the sky.
func WithFlowSettings(settings flowcontrol.Settings) Option {
	return func(o *options) { o.flow = settings }
}

// WithInputInterval changes how often a spawned plane reports its state.
func WithInputInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.inputInterval = interval
		}
	}
}

// Core is the client side of one connection. It is driven by Poll and is
// not safe for concurrent use.
type Core struct {
	log  *logging.Logger
	opts options

	tg       *ClientTelegraph
	server   telegraph.Peer
	nickname string
	uptime   time.Duration

	arena      *arena.Arena
	skyHandle  *sky.SkyHandle
	scoreboard *scoreboard.Scoreboard
	skyFlow    *flowcontrol.FlowControl[sky.SkyHandleDelta]

	inputTimer   arena.Cooldown
	requestedSky bool
	disconnected bool

	events []Event
}

// NewCore prepares a client that joins as nickname once tg connects.
func NewCore(tg *ClientTelegraph, nickname string, opts ...Option) *Core {
	o := options{
		logger:        logging.L(),
		loader:        sky.DirLoader("."),
		flow:          DefaultFlowSettings(),
		inputInterval: DefaultInputInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Core{
		log:        o.logger.Named(logging.OriginClient, "core"),
		opts:       o,
		tg:         tg,
		nickname:   nickname,
		skyFlow:    flowcontrol.New[sky.SkyHandleDelta](o.flow),
		inputTimer: arena.NewCooldown(o.inputInterval),
	}
}

// Arena returns the mirrored arena, or nil before Init.
func (c *Core) Arena() *arena.Arena { return c.arena }

// SkyHandle mirrors the server's sky, or nil before Init.
func (c *Core) SkyHandle() *sky.SkyHandle { return c.skyHandle }

// Scoreboard mirrors the server's scores, or nil before Init.
func (c *Core) Scoreboard() *scoreboard.Scoreboard { return c.scoreboard }

// Joined reports whether the server accepted us.
func (c *Core) Joined() bool { return c.arena != nil }

// Disconnected reports whether the server link is gone.
func (c *Core) Disconnected() bool { return c.disconnected }

// Player returns the local player, or nil before Init.
func (c *Core) Player() *arena.Player {
	if c.arena == nil {
		return nil
	}
	pid, _ := c.arena.ClientPID()
	return c.arena.GetPlayer(pid)
}

// Events returns the message log and clears it.
func (c *Core) Events() []Event {
	events := c.events
	c.events = nil
	return events
}

// Poll advances local time by delta, handles everything the server sent,
// applies the sky deltas that are due and reports local input.
func (c *Core) Poll(delta time.Duration) {
	c.uptime += delta
	for {
		ev, ok := c.tg.Poll()
		if !ok {
			break
		}
		switch ev.Kind {
		case telegraph.EventConnect:
			c.server = ev.Peer
			c.transmit(protocol.ReqJoin(c.nickname))
		case telegraph.EventDisconnect:
			c.disconnected = true
			c.events = append(c.events, Event{Kind: EventDisconnect, Text: "disconnected from server"})
		case telegraph.EventReceive:
			if packet, ok := c.tg.Receive(ev); ok {
				c.processPacket(packet)
			}
		}
	}
	if c.arena == nil {
		return
	}

	for {
		d, ok := c.skyFlow.Pull(c.uptime)
		if !ok {
			break
		}
		c.skyHandle.ApplyDelta(d)
	}
	c.arena.Poll()
	c.arena.Tick(delta)
	c.requestSkyIfLoading()
	if c.inputTimer.Tick(delta) {
		c.sendInput()
	}
}

func (c *Core) processPacket(packet protocol.ServerPacket) {
	if c.arena == nil {
		if packet.Kind == protocol.ServerInit {
			c.initialize(packet)
		}
		return
	}
	switch packet.Kind {
	case protocol.ServerPing:
		c.transmit(protocol.Pong(*packet.Timestamp, c.uptime))
	case protocol.ServerInitSky:
		c.skyFlow.Reset()
		if packet.SkyInit.Env != nil {
			c.skyHandle.ApplyDelta(sky.SkyHandleDelta{Init: packet.SkyInit.Env})
		} else {
			c.skyHandle.ApplyDelta(sky.SkyHandleDelta{})
		}
	case protocol.ServerDeltaArena:
		c.arena.ApplyDelta(*packet.ArenaDelta)
	case protocol.ServerDeltaSky:
		c.skyFlow.Push(*packet.Timestamp, c.uptime, *packet.SkyDelta)
	case protocol.ServerDeltaScore:
		c.scoreboard.ApplyDelta(*packet.ScoreDelta)
	case protocol.ServerChat:
		pid := *packet.PID
		c.events = append(c.events, Event{Kind: EventChat, From: &pid, Text: *packet.Text})
	case protocol.ServerBroadcast:
		c.events = append(c.events, Event{Kind: EventBroadcast, Text: *packet.Text})
	case protocol.ServerRCon:
		c.events = append(c.events, Event{Kind: EventRCon, Text: *packet.Text})
	}
}

func (c *Core) initialize(packet protocol.ServerPacket) {
	logger := c.opts.logger
	c.arena = arena.NewArena(*packet.ArenaInit, arena.AsClient(*packet.PID), arena.WithLogger(logger))
	c.skyHandle = sky.NewSkyHandle(c.arena, *packet.SkyInit,
		sky.WithHandleLogger(logger), sky.WithMapLoader(c.opts.loader))
	c.scoreboard = scoreboard.New(c.arena, *packet.ScoreInit, scoreboard.WithLogger(logger))
	c.log.Info("joined arena", logging.String("arena", c.arena.Name()),
		logging.Uint32("pid", uint32(*packet.PID)))
}

// ClockOffset is how far our clock runs ahead of the server's, as the
// server measured it. Zero until the first latency update.
func (c *Core) ClockOffset() time.Duration {
	if p := c.Player(); p != nil {
		if stats, ok := p.Stats(); ok {
			return stats.ClockOffset
		}
	}
	return 0
}

// requestSkyIfLoading asks for the running sky once per environment load.
func (c *Core) requestSkyIfLoading() {
	p := c.Player()
	if p == nil {
		return
	}
	if !p.LoadingEnv() {
		c.requestedSky = false
		return
	}
	if !c.requestedSky {
		c.requestedSky = true
		c.transmit(protocol.ReqSky())
	}
}

func (c *Core) sendInput() {
	s := c.skyHandle.Sky()
	p := c.Player()
	if s == nil || p == nil {
		return
	}
	part := s.GetParticipation(p)
	if part == nil {
		return
	}
	if input, ok := part.CollectInput(); ok {
		c.transmit(protocol.ReqInput(c.uptime, input))
	}
}

func (c *Core) transmit(packet protocol.ClientPacket) {
	if c.server == nil {
		return
	}
	if err := c.tg.Transmit(c.server, packet); err != nil {
		c.log.Debug("send failed", logging.String("packet", packet.Kind.String()), logging.Error(err))
	}
}

// Chat says text to everyone.
func (c *Core) Chat(text string) { c.transmit(protocol.ClientChatPacket(text)) }

// RCon sends a console command.
func (c *Core) RCon(command string) { c.transmit(protocol.ClientRConPacket(command)) }

// RequestTeam asks to switch teams; the server may refuse.
func (c *Core) RequestTeam(team arena.Team) { c.transmit(protocol.ReqTeam(team)) }

// RequestNickname asks for a new nickname. The server dedupes it.
func (c *Core) RequestNickname(nickname string) {
	c.transmit(protocol.ReqPlayerDelta(arena.PlayerDelta{Nickname: &nickname}))
}

// RequestSpawn asks for a plane at a spawn point of our team.
func (c *Core) RequestSpawn() { c.transmit(protocol.ReqSpawn()) }

// DoAction changes a control of the local plane; the change reaches the
// server with the next input report.
func (c *Core) DoAction(action plane.Action, state bool) {
	if p := c.Player(); p != nil {
		p.DoAction(action, state)
	}
}

// Close drops the connection.
func (c *Core) Close() {
	if c.server != nil {
		c.server.Close("client closing")
	}
}
