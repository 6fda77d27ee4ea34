package protocol

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/networked"
)

// Field numbers of the packet envelopes. Field 1 is always the kind.
const (
	clientFieldKind        = 1
	clientFieldPingTime    = 2
	clientFieldPongTime    = 3
	clientFieldTimestamp   = 4
	clientFieldNickname    = 5
	clientFieldPlayerDelta = 6
	clientFieldInput       = 7
	clientFieldTeam        = 8
	clientFieldText        = 9

	serverFieldKind       = 1
	serverFieldTimestamp  = 2
	serverFieldPID        = 3
	serverFieldArenaInit  = 4
	serverFieldSkyInit    = 5
	serverFieldScoreInit  = 6
	serverFieldArenaDelta = 7
	serverFieldSkyDelta   = 8
	serverFieldScoreDelta = 9
	serverFieldText       = 10
)

// EncodeClient serialises the fields of p's kind.
func EncodeClient(p ClientPacket) []byte {
	var e encoder
	e.putUint(clientFieldKind, uint64(p.Kind))
	switch p.Kind {
	case ClientPong:
		putOptionalDuration(&e, clientFieldPingTime, p.PingTime)
		putOptionalDuration(&e, clientFieldPongTime, p.PongTime)
	case ClientReqJoin:
		putOptionalString(&e, clientFieldNickname, p.Nickname)
	case ClientReqPlayerDelta:
		if p.PlayerDelta != nil {
			e.message(clientFieldPlayerDelta, func(inner *encoder) { encodePlayerDelta(inner, *p.PlayerDelta) })
		}
	case ClientReqInput:
		putOptionalDuration(&e, clientFieldTimestamp, p.Timestamp)
		if p.Input != nil {
			e.message(clientFieldInput, func(inner *encoder) { encodeParticipationInput(inner, *p.Input) })
		}
	case ClientReqTeam:
		if p.Team != nil {
			e.putUint(clientFieldTeam, uint64(*p.Team))
		}
	case ClientChat, ClientRCon:
		putOptionalString(&e, clientFieldText, p.Text)
	}
	return e.buf
}

// DecodeClient parses and verifies a client packet. Fields that do not belong
// to the packet's kind are rejected.
func DecodeClient(b []byte) (ClientPacket, error) {
	var p ClientPacket
	kindSeen := false
	err := eachField(b, func(f field) error {
		var err error
		switch f.num {
		case clientFieldKind:
			var kind uint8
			kind, err = f.uint8()
			p.Kind = ClientPacketKind(kind)
			if err == nil && !p.Kind.Valid() {
				err = fmt.Errorf("%w: client packet kind %d", ErrMalformed, kind)
			}
			kindSeen = true
		case clientFieldPingTime:
			p.PingTime, err = optionalDuration(f)
		case clientFieldPongTime:
			p.PongTime, err = optionalDuration(f)
		case clientFieldTimestamp:
			p.Timestamp, err = optionalDuration(f)
		case clientFieldNickname:
			p.Nickname, err = optionalString(f)
		case clientFieldPlayerDelta:
			p.PlayerDelta, err = decodeOptional(f, decodePlayerDelta)
		case clientFieldInput:
			p.Input, err = decodeOptional(f, decodeParticipationInput)
		case clientFieldTeam:
			var t arena.Team
			t, err = team(f)
			p.Team = &t
		case clientFieldText:
			p.Text, err = optionalString(f)
		default:
			return f.unknown()
		}
		return err
	})
	if err != nil {
		return ClientPacket{}, err
	}
	if !kindSeen {
		return ClientPacket{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	if !clientFieldsMatchKind(p) {
		return ClientPacket{}, fmt.Errorf("%w: fields do not match kind %s", ErrStructure, p.Kind)
	}
	if !p.VerifyStructure() {
		return ClientPacket{}, fmt.Errorf("%w: %s", ErrStructure, p.Kind)
	}
	return p, nil
}

func clientFieldsMatchKind(p ClientPacket) bool {
	expect := ClientPacket{Kind: p.Kind}
	switch p.Kind {
	case ClientPong:
		expect.PingTime, expect.PongTime = p.PingTime, p.PongTime
	case ClientReqJoin:
		expect.Nickname = p.Nickname
	case ClientReqPlayerDelta:
		expect.PlayerDelta = p.PlayerDelta
	case ClientReqInput:
		expect.Timestamp, expect.Input = p.Timestamp, p.Input
	case ClientReqTeam:
		expect.Team = p.Team
	case ClientChat, ClientRCon:
		expect.Text = p.Text
	}
	return expect == p
}

// EncodeServer serialises the fields of p's kind.
func EncodeServer(p ServerPacket) []byte {
	var e encoder
	e.putUint(serverFieldKind, uint64(p.Kind))
	switch p.Kind {
	case ServerPing:
		putOptionalDuration(&e, serverFieldTimestamp, p.Timestamp)
	case ServerInit:
		if p.PID != nil {
			e.pid(serverFieldPID, *p.PID)
		}
		if p.ArenaInit != nil {
			e.message(serverFieldArenaInit, func(inner *encoder) { encodeArenaInit(inner, *p.ArenaInit) })
		}
		if p.SkyInit != nil {
			e.message(serverFieldSkyInit, func(inner *encoder) { encodeSkyHandleInit(inner, *p.SkyInit) })
		}
		if p.ScoreInit != nil {
			e.message(serverFieldScoreInit, func(inner *encoder) { encodeScoreboardInit(inner, *p.ScoreInit) })
		}
	case ServerInitSky:
		if p.SkyInit != nil {
			e.message(serverFieldSkyInit, func(inner *encoder) { encodeSkyHandleInit(inner, *p.SkyInit) })
		}
	case ServerDeltaArena:
		if p.ArenaDelta != nil {
			e.message(serverFieldArenaDelta, func(inner *encoder) { encodeArenaDelta(inner, *p.ArenaDelta) })
		}
	case ServerDeltaSky:
		putOptionalDuration(&e, serverFieldTimestamp, p.Timestamp)
		if p.SkyDelta != nil {
			e.message(serverFieldSkyDelta, func(inner *encoder) { encodeSkyHandleDelta(inner, *p.SkyDelta) })
		}
	case ServerDeltaScore:
		if p.ScoreDelta != nil {
			e.message(serverFieldScoreDelta, func(inner *encoder) { encodeScoreboardDelta(inner, *p.ScoreDelta) })
		}
	case ServerChat:
		if p.PID != nil {
			e.pid(serverFieldPID, *p.PID)
		}
		putOptionalString(&e, serverFieldText, p.Text)
	case ServerBroadcast, ServerRCon:
		putOptionalString(&e, serverFieldText, p.Text)
	}
	return e.buf
}

// DecodeServer parses and verifies a server packet.
func DecodeServer(b []byte) (ServerPacket, error) {
	var p ServerPacket
	kindSeen := false
	err := eachField(b, func(f field) error {
		var err error
		switch f.num {
		case serverFieldKind:
			var kind uint8
			kind, err = f.uint8()
			p.Kind = ServerPacketKind(kind)
			if err == nil && !p.Kind.Valid() {
				err = fmt.Errorf("%w: server packet kind %d", ErrMalformed, kind)
			}
			kindSeen = true
		case serverFieldTimestamp:
			p.Timestamp, err = optionalDuration(f)
		case serverFieldPID:
			var pid networked.PID
			pid, err = f.pid()
			p.PID = &pid
		case serverFieldArenaInit:
			p.ArenaInit, err = decodeOptional(f, decodeArenaInit)
		case serverFieldSkyInit:
			p.SkyInit, err = decodeOptional(f, decodeSkyHandleInit)
		case serverFieldScoreInit:
			p.ScoreInit, err = decodeOptional(f, decodeScoreboardInit)
		case serverFieldArenaDelta:
			p.ArenaDelta, err = decodeOptional(f, decodeArenaDelta)
		case serverFieldSkyDelta:
			p.SkyDelta, err = decodeOptional(f, decodeSkyHandleDelta)
		case serverFieldScoreDelta:
			p.ScoreDelta, err = decodeOptional(f, decodeScoreboardDelta)
		case serverFieldText:
			p.Text, err = optionalString(f)
		default:
			return f.unknown()
		}
		return err
	})
	if err != nil {
		return ServerPacket{}, err
	}
	if !kindSeen {
		return ServerPacket{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	if !p.VerifyStructure() {
		return ServerPacket{}, fmt.Errorf("%w: %s", ErrStructure, p.Kind)
	}
	return p, nil
}

func putOptionalDuration(e *encoder, num protowire.Number, d *time.Duration) {
	if d != nil {
		e.putDuration(num, *d)
	}
}

func putOptionalString(e *encoder, num protowire.Number, s *string) {
	if s != nil {
		e.putString(num, *s)
	}
}

func optionalDuration(f field) (*time.Duration, error) {
	d, err := f.duration()
	return &d, err
}

func optionalString(f field) (*string, error) {
	s, err := f.string()
	return &s, err
}
