// Package server runs the authoritative side of the multiplayer protocol:
// it owns the arena, admits peers as players and broadcasts state.
package server

import (
	"errors"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/protocol"
	"solemnsky/server/internal/scoreboard"
	"solemnsky/server/internal/sky"
	"solemnsky/server/internal/telegraph"
)

// ServerTelegraph reads client packets and sends server packets.
type ServerTelegraph = telegraph.Telegraph[protocol.ClientPacket, protocol.ServerPacket]

// BroadcastTap observes every packet sent to all clients, with its encoding.
type BroadcastTap interface {
	OnBroadcast(uptime time.Duration, packet protocol.ServerPacket, payload []byte)
}

// Shared is the state the executor and the game-mode listener both use.
type Shared struct {
	log *logging.Logger

	Arena      *arena.Arena
	SkyHandle  *sky.SkyHandle
	Scoreboard *scoreboard.Scoreboard

	telegraph *ServerTelegraph
	peers     map[string]telegraph.Peer
	playerOf  map[string]networked.PID
	peerOf    map[networked.PID]telegraph.Peer

	sinks  []EventSink
	taps   []BroadcastTap
	deaths sky.SkyListener
}

// SharedOptions configures NewShared.
type SharedOptions struct {
	Logger           *logging.Logger
	MapLoader        sky.MapLoader
	ScoreboardFields []string
}

// NewShared builds the arena with its sky handle and scoreboard.
func NewShared(tg *ServerTelegraph, init arena.ArenaInit, opts SharedOptions) *Shared {
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	s := &Shared{
		log:       opts.Logger.Named(logging.OriginServer, "shared"),
		telegraph: tg,
		peers:     make(map[string]telegraph.Peer),
		playerOf:  make(map[string]networked.PID),
		peerOf:    make(map[networked.PID]telegraph.Peer),
	}
	s.Arena = arena.NewArena(init, arena.WithLogger(opts.Logger))

	handleOpts := []sky.HandleOption{
		sky.WithHandleLogger(opts.Logger),
		sky.WithSkyOptions(sky.WithListener(s)),
	}
	if opts.MapLoader != nil {
		handleOpts = append(handleOpts, sky.WithMapLoader(opts.MapLoader))
	}
	s.SkyHandle = sky.NewSkyHandle(s.Arena, sky.SkyHandleInit{}, handleOpts...)

	fields := opts.ScoreboardFields
	if len(fields) == 0 {
		fields = scoreboard.DefaultFields()
	}
	s.Scoreboard = scoreboard.New(s.Arena, scoreboard.ScoreboardInit{Fields: fields}, scoreboard.WithLogger(opts.Logger))

	s.Arena.AttachLogger(arena.ArenaLoggerFunc(s.LogArenaEvent))
	return s
}

// Telegraph returns the packet transport.
func (s *Shared) Telegraph() *ServerTelegraph { return s.telegraph }

// AttachSink stores every future event in sink as well.
func (s *Shared) AttachSink(sink EventSink) { s.sinks = append(s.sinks, sink) }

// AttachTap shows every future broadcast to tap.
func (s *Shared) AttachTap(tap BroadcastTap) { s.taps = append(s.taps, tap) }

// SetDeathListener receives the plane deaths the sky decides on.
func (s *Shared) SetDeathListener(l sky.SkyListener) { s.deaths = l }

// OnPlaneDeath forwards sky deaths to the death listener.
func (s *Shared) OnPlaneDeath(victim, killer *arena.Player) {
	if s.deaths != nil {
		s.deaths.OnPlaneDeath(victim, killer)
	}
}

func (s *Shared) addPeer(peer telegraph.Peer) { s.peers[peer.ID()] = peer }

func (s *Shared) removePeer(peer telegraph.Peer) {
	delete(s.peers, peer.ID())
	if pid, ok := s.playerOf[peer.ID()]; ok {
		delete(s.peerOf, pid)
		delete(s.playerOf, peer.ID())
	}
}

func (s *Shared) bindPlayer(peer telegraph.Peer, pid networked.PID) {
	s.playerOf[peer.ID()] = pid
	s.peerOf[pid] = peer
}

// PeerCount is the number of connected peers, joined or not.
func (s *Shared) PeerCount() int { return len(s.peers) }

// PlayerFromPeer returns the player peer joined as, or nil.
func (s *Shared) PlayerFromPeer(peer telegraph.Peer) *arena.Player {
	pid, ok := s.playerOf[peer.ID()]
	if !ok {
		return nil
	}
	return s.Arena.GetPlayer(pid)
}

// PeerFromPlayer returns the peer controlling pid, or nil.
func (s *Shared) PeerFromPlayer(pid networked.PID) telegraph.Peer { return s.peerOf[pid] }

// RegisterArenaDelta applies delta and broadcasts it.
func (s *Shared) RegisterArenaDelta(delta arena.ArenaDelta) {
	s.Arena.ApplyDelta(delta)
	s.SendToClients(protocol.DeltaArena(delta))
}

// RegisterGameStart starts a sky on the next environment and asks every
// player to load it. A failed load is broadcast and the error returned.
func (s *Shared) RegisterGameStart() error {
	if err := s.SkyHandle.Start(); err != nil {
		s.SendToClients(protocol.Broadcast("could not load environment " + s.Arena.NextEnv() + ": " + err.Error()))
		return err
	}
	s.RegisterArenaDelta(arena.ResetEnvLoadDelta())
	s.Arena.DoStartGame()
	return nil
}

// RegisterGameEnd stops the running sky.
func (s *Shared) RegisterGameEnd() {
	s.SkyHandle.Stop()
	s.Arena.DoEndGame()
}

// SendToClients sends packet to every joined player.
func (s *Shared) SendToClients(packet protocol.ServerPacket) {
	s.broadcast(packet, nil)
}

// SendToClientsExcept sends packet to every joined player but pid.
func (s *Shared) SendToClientsExcept(pid networked.PID, packet protocol.ServerPacket) {
	s.broadcast(packet, &pid)
}

func (s *Shared) broadcast(packet protocol.ServerPacket, except *networked.PID) {
	payload := s.telegraph.Encode(packet)
	for _, pid := range networked.SortedPIDs(s.peerOf) {
		if except != nil && pid == *except {
			continue
		}
		s.transmit(s.peerOf[pid], payload, packet.Kind, packet.Reliable())
	}
	s.tap(packet, payload)
}

func (s *Shared) tap(packet protocol.ServerPacket, payload []byte) {
	for _, tap := range s.taps {
		tap.OnBroadcast(s.Arena.Uptime(), packet, payload)
	}
}

func (s *Shared) transmit(peer telegraph.Peer, payload []byte, kind protocol.ServerPacketKind, reliable bool) {
	err := s.telegraph.TransmitEncoded(peer, payload, reliable)
	if err != nil && !errors.Is(err, telegraph.ErrThrottled) {
		s.log.Debug("send failed", logging.String("peer", peer.ID()),
			logging.String("packet", kind.String()), logging.Error(err))
	}
}

// SendToClient sends packet to one peer.
func (s *Shared) SendToClient(peer telegraph.Peer, packet protocol.ServerPacket) {
	s.transmit(peer, s.telegraph.Encode(packet), packet.Kind, packet.Reliable())
}

// SendSkyDelta sends delta to every joined player, narrowed to what each
// one does not control itself. Only updates later deltas derive again go
// out unreliably.
func (s *Shared) SendSkyDelta(delta sky.SkyHandleDelta) {
	uptime := s.Arena.Uptime()
	reliable := delta.Reliable()
	for _, pid := range networked.SortedPIDs(s.peerOf) {
		packet := protocol.DeltaSky(uptime, delta.RespectAuthority(pid))
		s.transmit(s.peerOf[pid], s.telegraph.Encode(packet), packet.Kind, reliable)
	}
	packet := protocol.DeltaSky(uptime, delta)
	s.tap(packet, s.telegraph.Encode(packet))
}

// SpectatorInit is an Init packet for a viewer that is not a player. Its
// PID is one no player holds.
func (s *Shared) SpectatorInit() protocol.ServerPacket {
	return protocol.Init(networked.SmallestUnused(s.peerOf), s.Arena.CaptureInitializer(),
		s.SkyHandle.CaptureInitializer(), s.Scoreboard.CaptureInitializer())
}

// RConResponse answers an rcon command.
func (s *Shared) RConResponse(peer telegraph.Peer, response string) {
	s.SendToClient(peer, protocol.ServerRConPacket(response))
	s.LogEvent(RConOutEvent(response))
}

// LogEvent logs a server event and stores it in every sink.
func (s *Shared) LogEvent(event ServerEvent) {
	s.log.Info(event.String(), logging.String("event", event.Kind.String()))
	for _, sink := range s.sinks {
		sink.RecordServer(s.Arena.Uptime(), event)
	}
}

// LogArenaEvent stores an arena event in every sink. The arena logs it
// itself.
func (s *Shared) LogArenaEvent(event arena.ArenaEvent) {
	for _, sink := range s.sinks {
		sink.RecordArena(s.Arena.Uptime(), event)
	}
}
