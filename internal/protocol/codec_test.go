package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/scoreboard"
	"solemnsky/server/internal/sky"
)

func TestClientPacketsRoundTrip(t *testing.T) {
	nick := "omega"
	blue := arena.TeamBlue
	controls := plane.Controls(0)
	controls.Set(plane.ActionThrust, true)
	state := plane.DefaultState().Client()

	packets := []ClientPacket{
		Pong(3*time.Second, 5*time.Second),
		ReqJoin("alpha"),
		ReqSky(),
		ReqPlayerDelta(arena.PlayerDelta{Nickname: &nick, Team: &blue}),
		ReqInput(250*time.Millisecond, sky.ParticipationInput{PlaneState: &state, Controls: &controls}),
		ReqTeam(arena.TeamRed),
		ReqSpawn(),
		ClientChatPacket("hello"),
		ClientRConPacket("start"),
	}
	for _, packet := range packets {
		encoded := EncodeClient(packet)
		decoded, err := DecodeClient(encoded)
		if err != nil {
			t.Fatalf("%s: decode: %v", packet.Kind, err)
		}
		if decoded.Kind != packet.Kind {
			t.Fatalf("%s: decoded kind %s", packet.Kind, decoded.Kind)
		}
		if !bytes.Equal(EncodeClient(decoded), encoded) {
			t.Fatalf("%s: re-encoding differs", packet.Kind)
		}
	}
}

func TestClientPacketFieldsSurvive(t *testing.T) {
	decoded, err := DecodeClient(EncodeClient(Pong(3*time.Second, 0)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded.PingTime != 3*time.Second || decoded.PongTime == nil || *decoded.PongTime != 0 {
		t.Fatalf("unexpected pong %+v", decoded)
	}

	decoded, err = DecodeClient(EncodeClient(ReqJoin("")))
	if err != nil || decoded.Nickname == nil || *decoded.Nickname != "" {
		t.Fatalf("empty nickname should stay present, got %+v, %v", decoded, err)
	}
}

type session struct {
	arena *arena.Arena
	sky   *sky.Sky
	board *scoreboard.Scoreboard
}

func newSession(t *testing.T) session {
	t.Helper()
	logger := logging.NewTestLogger()
	a := arena.NewArena(arena.ArenaInit{Name: "test", Motd: "hi", NextEnv: sky.DefaultMapName, TeamCount: 2},
		arena.WithLogger(logger))
	a.ConnectPlayer("alpha")
	a.ConnectPlayer("bravo")
	m := sky.DefaultMap()
	s := sky.NewSky(a, m, sky.InitFromMap(m), sky.WithLogger(logger))
	board := scoreboard.New(a, scoreboard.ScoreboardInit{Fields: scoreboard.DefaultFields()},
		scoreboard.WithLogger(logger))

	p := a.GetPlayer(0)
	a.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 300, Y: 300}, 30)
	owner := p.PID()
	s.SpawnEntity(sky.EntityInit{
		Movement: &sky.EntityMovement{GravityScale: 0.5},
		Fill:     "laser",
		Shape:    physics.Vec2{X: 12, Y: 4},
		Physical: physics.Physical{Pos: physics.Vec2{X: 10, Y: 20}, Vel: physics.Vec2{X: -3}},
		Expiry:   1,
		Owner:    &owner,
		Damage:   0.25,
	})
	s.SpawnExplosion(sky.ExplosionInit{Pos: physics.Vec2{X: 1, Y: 2}, Radius: 100, Expiry: 1})
	board.Add(p, scoreboard.FieldKills, -2)
	return session{arena: a, sky: s, board: board}
}

func TestServerPacketsRoundTrip(t *testing.T) {
	s := newSession(t)
	skyDelta, _ := s.sky.CollectDelta()
	scoreDelta, _ := s.board.CollectDelta()
	handleInit := sky.SkyHandleInit{Env: &sky.EnvInit{MapName: sky.DefaultMapName, Sky: s.sky.CaptureInitializer()}}
	nick := "charlie"

	packets := []ServerPacket{
		Ping(time.Minute),
		Init(1, s.arena.CaptureInitializer(), handleInit, s.board.CaptureInitializer()),
		InitSky(sky.SkyHandleInit{}),
		DeltaArena(arena.QuitDelta(1)),
		DeltaArena(arena.PlayerDeltaFor(0, arena.PlayerDelta{Nickname: &nick})),
		DeltaArena(arena.ModeDelta(arena.ModeGame)),
		DeltaArena(arena.ResetEnvLoadDelta()),
		DeltaSky(2*time.Second, sky.SkyHandleDelta{Delta: &skyDelta}),
		DeltaSky(2*time.Second, sky.SkyHandleDelta{}),
		DeltaScore(scoreDelta),
		ServerChatPacket(0, "gg"),
		Broadcast("game starting"),
		ServerRConPacket("ok"),
	}
	for _, packet := range packets {
		encoded := EncodeServer(packet)
		decoded, err := DecodeServer(encoded)
		if err != nil {
			t.Fatalf("%s: decode: %v", packet.Kind, err)
		}
		if !bytes.Equal(EncodeServer(decoded), encoded) {
			t.Fatalf("%s: re-encoding differs", packet.Kind)
		}
	}
}

func TestInitPacketRebuildsSession(t *testing.T) {
	s := newSession(t)
	handleInit := sky.SkyHandleInit{Env: &sky.EnvInit{MapName: sky.DefaultMapName, Sky: s.sky.CaptureInitializer()}}
	decoded, err := DecodeServer(EncodeServer(Init(1, s.arena.CaptureInitializer(), handleInit, s.board.CaptureInitializer())))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got := decoded.ArenaInit.Players[1].Nickname; got != "bravo" {
		t.Fatalf("unexpected nickname %q", got)
	}
	spawn := decoded.SkyInit.Env.Sky.Participations[0].Spawn
	if spawn == nil || spawn.Tuning != plane.DefaultTuning() {
		t.Fatalf("tuning did not survive: %+v", spawn)
	}
	if spawn.State != s.sky.GetParticipation(s.arena.GetPlayer(0)).Plane().State {
		t.Fatalf("plane state did not survive")
	}
	entity := decoded.SkyInit.Env.Sky.Entities[0]
	if entity.Owner == nil || *entity.Owner != 0 || entity.Movement == nil || entity.Movement.GravityScale != 0.5 {
		t.Fatalf("entity did not survive: %+v", entity)
	}
	if row := decoded.ScoreInit.Records[0]; len(row) != 3 || row[0] != -2 {
		t.Fatalf("score row did not survive: %v", row)
	}
}

func TestSkyDeltaKeepsUnchangedEntries(t *testing.T) {
	s := newSession(t)
	s.sky.CollectDelta()
	delta, _ := s.sky.CollectDelta()

	packet, err := DecodeServer(EncodeServer(DeltaSky(0, sky.SkyHandleDelta{Delta: &delta})))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	explosions := packet.SkyDelta.Delta.Explosions
	pending, live := explosions.Deltas[0]
	if !live || pending != nil {
		t.Fatalf("unchanged explosion should stay live without a delta: %+v", explosions)
	}
	if len(explosions.Inits) != 0 {
		t.Fatalf("explosion should not be re-sent: %+v", explosions.Inits)
	}
}

func TestChatWithoutTextIsRejected(t *testing.T) {
	_, err := DecodeClient(EncodeClient(ClientPacket{Kind: ClientChat}))
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("expected ErrStructure, got %v", err)
	}
	_, err = DecodeServer(EncodeServer(ServerPacket{Kind: ServerDeltaSky}))
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("expected ErrStructure for server packet, got %v", err)
	}
}

func TestDecodeRejectsForeignFields(t *testing.T) {
	b := EncodeClient(ReqSky())
	b = protowire.AppendTag(b, clientFieldNickname, protowire.BytesType)
	b = protowire.AppendString(b, "sneaky")
	if _, err := DecodeClient(b); !errors.Is(err, ErrStructure) {
		t.Fatalf("expected ErrStructure, got %v", err)
	}
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	b := EncodeClient(ReqSpawn())
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	if _, err := DecodeClient(b); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestDecodeRejectsOutOfRangeEnums(t *testing.T) {
	var kind []byte
	kind = protowire.AppendTag(kind, clientFieldKind, protowire.VarintType)
	kind = protowire.AppendVarint(kind, 200)
	if _, err := DecodeClient(kind); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for kind, got %v", err)
	}

	var team []byte
	team = protowire.AppendTag(team, clientFieldKind, protowire.VarintType)
	team = protowire.AppendVarint(team, uint64(ClientReqTeam))
	team = protowire.AppendTag(team, clientFieldTeam, protowire.VarintType)
	team = protowire.AppendVarint(team, 9)
	if _, err := DecodeClient(team); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for team, got %v", err)
	}

	bad := arena.Mode(42)
	delta := arena.ArenaDelta{Kind: arena.DeltaMode, Mode: &bad}
	if _, err := DecodeServer(EncodeServer(DeltaArena(delta))); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for mode, got %v", err)
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	s := newSession(t)
	handleInit := sky.SkyHandleInit{Env: &sky.EnvInit{MapName: sky.DefaultMapName, Sky: s.sky.CaptureInitializer()}}
	encoded := EncodeServer(Init(0, s.arena.CaptureInitializer(), handleInit, s.board.CaptureInitializer()))

	for _, cut := range []int{1, len(encoded) / 2, len(encoded) - 1} {
		if _, err := DecodeServer(encoded[:cut]); err == nil {
			t.Fatalf("truncation at %d decoded without error", cut)
		}
	}
	if _, err := DecodeServer(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("empty input should be malformed, got %v", err)
	}
}

func TestDecodeRejectsUnknownTuningParameter(t *testing.T) {
	var e encoder
	e.message(1, func(inner *encoder) {
		inner.putString(1, "flight.warpDrive")
		inner.putDouble(2, 9)
	})
	if _, err := decodeTuning(e.buf); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestReliability(t *testing.T) {
	state := plane.DefaultState()
	update := sky.SkyDelta{Participations: map[networked.PID]sky.ParticipationDelta{
		0: {PlaneAlive: true, State: &state},
	}}
	if Ping(0).Reliable() || DeltaSky(0, sky.SkyHandleDelta{Delta: &update}).Reliable() {
		t.Fatalf("pings and plain sky updates are unreliable")
	}
	spawn := sky.SkyDelta{Participations: map[networked.PID]sky.ParticipationDelta{
		0: {PlaneAlive: true, Spawn: &sky.Spawn{Tuning: plane.DefaultTuning(), State: state}},
	}}
	if !DeltaSky(0, sky.SkyHandleDelta{Delta: &spawn}).Reliable() || !DeltaSky(0, sky.SkyHandleDelta{}).Reliable() {
		t.Fatalf("spawns and sky stops must be reliable")
	}
	if !DeltaArena(arena.QuitDelta(0)).Reliable() || !Broadcast("x").Reliable() {
		t.Fatalf("control packets are reliable")
	}
	if Pong(0, 0).Reliable() || !ReqInput(0, sky.ParticipationInput{}).Reliable() {
		t.Fatalf("only pongs are unreliable")
	}
	if !ReqJoin("nick").Reliable() || !ClientChatPacket("hi").Reliable() {
		t.Fatalf("client control packets are reliable")
	}
}

func TestPIDEntriesEncodeInOrder(t *testing.T) {
	m := map[networked.PID]int{3: 0, 1: 0, 2: 0}
	var e encoder
	entries(&e, 1, m, func(*encoder, int) {})
	var pids []networked.PID
	err := eachField(e.buf, func(f field) error {
		pid, _, _, err := decodeEntry(f, decodeEmpty[struct{}])
		pids = append(pids, pid)
		return err
	})
	if err != nil || len(pids) != 3 || pids[0] != 1 || pids[2] != 3 {
		t.Fatalf("unexpected order %v, %v", pids, err)
	}
}
