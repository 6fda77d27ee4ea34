// Package protocol defines the packets exchanged between server and clients
// and their binary encoding.
package protocol

import (
	"fmt"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/scoreboard"
	"solemnsky/server/internal/sky"
)

// ClientPacketKind tags a ClientPacket.
type ClientPacketKind uint8

const (
	ClientPong ClientPacketKind = iota
	ClientReqJoin
	ClientReqSky
	ClientReqPlayerDelta
	ClientReqInput
	ClientReqTeam
	ClientReqSpawn
	ClientChat
	ClientRCon

	clientKindCount
)

var clientKindNames = [clientKindCount]string{
	"pong", "req_join", "req_sky", "req_player_delta", "req_input",
	"req_team", "req_spawn", "chat", "rcon",
}

func (k ClientPacketKind) Valid() bool { return k < clientKindCount }

func (k ClientPacketKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("client_kind(%d)", uint8(k))
	}
	return clientKindNames[k]
}

// ClientPacket is a message from a client. Only the fields of its kind are
// meaningful.
type ClientPacket struct {
	Kind ClientPacketKind

	PingTime  *time.Duration
	PongTime  *time.Duration
	Timestamp *time.Duration

	Nickname    *string
	PlayerDelta *arena.PlayerDelta
	Input       *sky.ParticipationInput
	Team        *arena.Team
	Text        *string
}

func Pong(pingTime, pongTime time.Duration) ClientPacket {
	return ClientPacket{Kind: ClientPong, PingTime: &pingTime, PongTime: &pongTime}
}

func ReqJoin(nickname string) ClientPacket {
	return ClientPacket{Kind: ClientReqJoin, Nickname: &nickname}
}

func ReqSky() ClientPacket { return ClientPacket{Kind: ClientReqSky} }

func ReqPlayerDelta(delta arena.PlayerDelta) ClientPacket {
	return ClientPacket{Kind: ClientReqPlayerDelta, PlayerDelta: &delta}
}

// ReqInput reports participation input sampled at timestamp, the client's
// own uptime. The receiving buffer learns the clock skew itself.
func ReqInput(timestamp time.Duration, input sky.ParticipationInput) ClientPacket {
	return ClientPacket{Kind: ClientReqInput, Timestamp: &timestamp, Input: &input}
}

func ReqTeam(team arena.Team) ClientPacket {
	return ClientPacket{Kind: ClientReqTeam, Team: &team}
}

func ReqSpawn() ClientPacket { return ClientPacket{Kind: ClientReqSpawn} }

func ClientChatPacket(text string) ClientPacket {
	return ClientPacket{Kind: ClientChat, Text: &text}
}

func ClientRConPacket(command string) ClientPacket {
	return ClientPacket{Kind: ClientRCon, Text: &command}
}

// VerifyStructure checks that the fields the kind requires are present and
// that nested payloads verify.
func (p ClientPacket) VerifyStructure() bool {
	switch p.Kind {
	case ClientPong:
		return p.PingTime != nil && p.PongTime != nil
	case ClientReqJoin:
		return p.Nickname != nil
	case ClientReqSky, ClientReqSpawn:
		return true
	case ClientReqPlayerDelta:
		return p.PlayerDelta != nil && p.PlayerDelta.VerifyStructure()
	case ClientReqInput:
		return p.Input != nil && p.Input.VerifyStructure()
	case ClientReqTeam:
		return p.Team != nil && p.Team.Valid()
	case ClientChat, ClientRCon:
		return p.Text != nil
	default:
		return false
	}
}

// Reliable reports whether the packet needs guaranteed, ordered delivery.
// Inputs only carry controls when they change, so only pongs may be lost.
func (p ClientPacket) Reliable() bool {
	return p.Kind != ClientPong
}

// ServerPacketKind tags a ServerPacket.
type ServerPacketKind uint8

const (
	ServerPing ServerPacketKind = iota
	ServerInit
	ServerInitSky
	ServerDeltaArena
	ServerDeltaSky
	ServerDeltaScore
	ServerChat
	ServerBroadcast
	ServerRCon

	serverKindCount
)

var serverKindNames = [serverKindCount]string{
	"ping", "init", "init_sky", "delta_arena", "delta_sky",
	"delta_score", "chat", "broadcast", "rcon",
}

func (k ServerPacketKind) Valid() bool { return k < serverKindCount }

func (k ServerPacketKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("server_kind(%d)", uint8(k))
	}
	return serverKindNames[k]
}

// ServerPacket is a message from the server. Only the fields of its kind are
// meaningful.
type ServerPacket struct {
	Kind ServerPacketKind

	Timestamp *time.Duration
	PID       *networked.PID

	ArenaInit *arena.ArenaInit
	SkyInit   *sky.SkyHandleInit
	ScoreInit *scoreboard.ScoreboardInit

	ArenaDelta *arena.ArenaDelta
	SkyDelta   *sky.SkyHandleDelta
	ScoreDelta *scoreboard.ScoreboardDelta

	Text *string
}

// Ping carries the server's uptime for latency measurement.
func Ping(timestamp time.Duration) ServerPacket {
	return ServerPacket{Kind: ServerPing, Timestamp: &timestamp}
}

// Init welcomes a joined client with everything it needs to mirror the
// session.
func Init(pid networked.PID, arenaInit arena.ArenaInit, skyInit sky.SkyHandleInit, scoreInit scoreboard.ScoreboardInit) ServerPacket {
	return ServerPacket{
		Kind:      ServerInit,
		PID:       &pid,
		ArenaInit: &arenaInit,
		SkyInit:   &skyInit,
		ScoreInit: &scoreInit,
	}
}

func InitSky(skyInit sky.SkyHandleInit) ServerPacket {
	return ServerPacket{Kind: ServerInitSky, SkyInit: &skyInit}
}

func DeltaArena(delta arena.ArenaDelta) ServerPacket {
	return ServerPacket{Kind: ServerDeltaArena, ArenaDelta: &delta}
}

// DeltaSky carries a sky delta collected at server uptime timestamp.
func DeltaSky(timestamp time.Duration, delta sky.SkyHandleDelta) ServerPacket {
	return ServerPacket{Kind: ServerDeltaSky, Timestamp: &timestamp, SkyDelta: &delta}
}

func DeltaScore(delta scoreboard.ScoreboardDelta) ServerPacket {
	return ServerPacket{Kind: ServerDeltaScore, ScoreDelta: &delta}
}

func ServerChatPacket(pid networked.PID, text string) ServerPacket {
	return ServerPacket{Kind: ServerChat, PID: &pid, Text: &text}
}

func Broadcast(text string) ServerPacket {
	return ServerPacket{Kind: ServerBroadcast, Text: &text}
}

func ServerRConPacket(text string) ServerPacket {
	return ServerPacket{Kind: ServerRCon, Text: &text}
}

// VerifyStructure checks that the fields the kind requires are present and
// that nested payloads verify.
func (p ServerPacket) VerifyStructure() bool {
	switch p.Kind {
	case ServerPing:
		return p.Timestamp != nil
	case ServerInit:
		return p.PID != nil &&
			p.ArenaInit != nil && p.ArenaInit.VerifyStructure() &&
			p.SkyInit != nil && p.SkyInit.VerifyStructure() &&
			p.ScoreInit != nil && p.ScoreInit.VerifyStructure()
	case ServerInitSky:
		return p.SkyInit != nil && p.SkyInit.VerifyStructure()
	case ServerDeltaArena:
		return p.ArenaDelta != nil && p.ArenaDelta.VerifyStructure()
	case ServerDeltaSky:
		return p.Timestamp != nil && p.SkyDelta != nil && p.SkyDelta.VerifyStructure()
	case ServerDeltaScore:
		return p.ScoreDelta != nil && p.ScoreDelta.VerifyStructure()
	case ServerChat:
		return p.PID != nil && p.Text != nil
	case ServerBroadcast, ServerRCon:
		return p.Text != nil
	default:
		return false
	}
}

// Reliable reports whether the packet needs guaranteed, ordered delivery.
// Pings and sky updates that the next delta derives again may be lost.
func (p ServerPacket) Reliable() bool {
	switch p.Kind {
	case ServerPing:
		return false
	case ServerDeltaSky:
		return p.SkyDelta != nil && p.SkyDelta.Reliable()
	default:
		return true
	}
}
