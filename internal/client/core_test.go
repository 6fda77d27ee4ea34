package client

import (
	"testing"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/server"
	"solemnsky/server/internal/sky"
	"solemnsky/server/internal/telegraph"
)

const tick = time.Millisecond

func testLoader(name string) (*sky.Map, error) {
	m := sky.DefaultMap()
	m.Name = name
	return m, nil
}

type session struct {
	host *telegraph.PipeHost
	exec *server.Exec
}

func newSession(t *testing.T) *session {
	t.Helper()
	logger := logging.NewTestLogger()
	host := telegraph.NewPipeHost()
	tg := telegraph.NewServerTelegraph(host, telegraph.WithLogger(logger))
	shared := server.NewShared(tg, arena.ArenaInit{Name: "mirror", NextEnv: "plains", TeamCount: 2},
		server.SharedOptions{Logger: logger, MapLoader: testLoader})
	vanilla := server.NewVanilla(shared, server.VanillaOptions{
		Logger:       logger,
		RConPassword: "secret",
		Tuning:       plane.DefaultTuning(),
	})
	exec := server.NewExec(shared, vanilla, server.ExecOptions{Logger: logger})
	t.Cleanup(func() { host.Close() })
	return &session{host: host, exec: exec}
}

func (s *session) connect(nickname string) *Core {
	logger := logging.NewTestLogger()
	tg := telegraph.NewClientTelegraph(s.host.Dial(), telegraph.WithLogger(logger))
	return NewCore(tg, nickname, WithLogger(logger), WithMapLoader(testLoader))
}

// exchange runs one round trip: the client speaks, the server answers, the
// client listens.
func (s *session) exchange(c *Core) {
	c.Poll(tick)
	s.exec.Step(tick)
	c.Poll(tick)
}

func TestCoreJoinsAndMirrorsArena(t *testing.T) {
	s := newSession(t)
	alice := s.connect("alice")

	//1.- Connecting sends the join, the Init builds the mirror.
	s.exchange(alice)
	if !alice.Joined() {
		t.Fatalf("expected alice to join")
	}
	if alice.Arena().Name() != "mirror" || alice.Player().Nickname() != "alice" {
		t.Fatalf("unexpected mirror %q / %q", alice.Arena().Name(), alice.Player().Nickname())
	}
	if alice.Arena().ServerResponsible() {
		t.Fatalf("the mirror must not act as server")
	}

	//2.- A second client shows up in the first one's arena.
	bob := s.connect("bob")
	s.exchange(bob)
	alice.Poll(tick)
	if len(alice.Arena().Players()) != 2 {
		t.Fatalf("alice should see bob, got %d players", len(alice.Arena().Players()))
	}

	//3.- Nickname requests come back arbitrated.
	bob.RequestNickname("alice")
	s.exchange(bob)
	if bob.Player().Nickname() != "alice(1)" {
		t.Fatalf("expected alice(1), got %q", bob.Player().Nickname())
	}
}

func TestCoreChatAndPing(t *testing.T) {
	s := newSession(t)
	alice := s.connect("alice")
	s.exchange(alice)

	//1.- Chat comes back attributed.
	alice.Chat("hello")
	s.exchange(alice)
	events := alice.Events()
	if len(events) != 1 || events[0].Kind != EventChat || events[0].Text != "hello" {
		t.Fatalf("unexpected events %+v", events)
	}
	if *events[0].From != alice.Player().PID() {
		t.Fatalf("chat should come from alice")
	}

	//2.- Pings are answered, and the server reports the link back.
	s.exec.Step(time.Second)
	alice.Poll(tick)
	s.exec.Step(time.Second)
	alice.Poll(tick)
	stats, ok := alice.Player().Stats()
	if !ok {
		t.Fatalf("expected connection stats")
	}
	if stats.Latency < 0 {
		t.Fatalf("latency cannot be negative: %v", stats.Latency)
	}
}

func TestCoreLoadsSkyAndSpawns(t *testing.T) {
	s := newSession(t)
	alice := s.connect("alice")
	s.exchange(alice)

	//1.- Starting the game makes the client load and fetch the sky.
	alice.RCon("login secret")
	alice.RCon("start")
	s.exchange(alice)
	if alice.Arena().Mode() != arena.ModeGame {
		t.Fatalf("expected game mode, got %s", alice.Arena().Mode())
	}
	s.exchange(alice)
	if !alice.SkyHandle().IsActive() || alice.Player().LoadingEnv() {
		t.Fatalf("expected a loaded sky")
	}
	rcon := 0
	for _, event := range alice.Events() {
		if event.Kind == EventRCon {
			rcon++
		}
	}
	if rcon != 2 {
		t.Fatalf("expected two rcon answers, got %d", rcon)
	}

	//2.- The spawn reaches the mirror through the sky stream.
	alice.RequestSpawn()
	s.exchange(alice)
	s.exec.Step(server.DefaultSkyDeltaInterval)
	alice.Poll(tick)
	part := alice.SkyHandle().Sky().GetParticipation(alice.Player())
	if part == nil || !part.IsSpawned() {
		t.Fatalf("expected the local plane to be spawned")
	}

	//3.- Local controls travel with the next input report.
	alice.DoAction(plane.ActionThrust, true)
	alice.Poll(DefaultInputInterval)
	s.exec.Step(tick)
	serverArena := s.exec.Shared().Arena
	serverPart := s.exec.Shared().SkyHandle.Sky().GetParticipation(serverArena.GetPlayer(alice.Player().PID()))
	if !serverPart.Controls().Get(plane.ActionThrust) {
		t.Fatalf("server should see the thrust control")
	}
}

// settle runs both sides in lockstep long enough for every jitter buffer
// to release what it holds.
func (s *session) settle(c *Core, rounds int) {
	for i := 0; i < rounds; i++ {
		c.Poll(100 * time.Millisecond)
		s.exec.Step(100 * time.Millisecond)
	}
	c.Poll(tick)
}

// startGame logs c in as admin and waits for the sky to load.
func (s *session) startGame(t *testing.T, c *Core) {
	t.Helper()
	c.RCon("login secret")
	c.RCon("start")
	s.exchange(c)
	s.exchange(c)
	if !c.SkyHandle().IsActive() {
		t.Fatalf("expected a loaded sky")
	}
}

func TestCoreFollowsSkyAfterLateJoin(t *testing.T) {
	s := newSession(t)

	//1.- The server has been up for a while before anybody connects.
	s.exec.Step(10 * time.Minute)
	alice := s.connect("alice")
	s.exchange(alice)
	s.startGame(t, alice)

	//2.- Pings and latency updates teach both sides about the skew.
	s.settle(alice, 40)
	if alice.ClockOffset() >= 0 {
		t.Fatalf("alice's clock should trail the server's, got offset %v", alice.ClockOffset())
	}

	//3.- Sky deltas keep flowing once the offset is known.
	alice.RequestSpawn()
	s.exchange(alice)
	s.settle(alice, 5)
	part := alice.SkyHandle().Sky().GetParticipation(alice.Player())
	if part == nil || !part.IsSpawned() {
		t.Fatalf("expected the spawn to reach the mirror")
	}
}

func TestCoreInputSurvivesClockOffsetShift(t *testing.T) {
	s := newSession(t)
	alice := s.connect("alice")
	s.exchange(alice)
	s.startGame(t, alice)
	alice.RequestSpawn()
	s.exchange(alice)
	s.settle(alice, 30)

	//1.- A new latency update moves the reported offset by an hour.
	stats, _ := alice.Player().Stats()
	stats.ClockOffset += time.Hour
	shift := alice.Player().ZeroDelta()
	shift.Stats = &stats
	alice.Arena().ApplyDelta(arena.PlayerDeltaFor(alice.Player().PID(), shift))
	if alice.ClockOffset() != stats.ClockOffset {
		t.Fatalf("expected the shifted offset, got %v", alice.ClockOffset())
	}

	//2.- Inputs are still applied on the server.
	alice.DoAction(plane.ActionThrust, true)
	s.settle(alice, 5)
	serverArena := s.exec.Shared().Arena
	serverPart := s.exec.Shared().SkyHandle.Sky().GetParticipation(serverArena.GetPlayer(alice.Player().PID()))
	if serverPart == nil || !serverPart.Controls().Get(plane.ActionThrust) {
		t.Fatalf("server should see the thrust control after the offset shift")
	}
}

func TestCoreNoticesDisconnect(t *testing.T) {
	s := newSession(t)
	alice := s.connect("alice")
	s.exchange(alice)

	alice.Close()
	alice.Poll(tick)
	if !alice.Disconnected() {
		t.Fatalf("expected disconnect")
	}
	s.exec.Step(tick)
	if len(s.exec.Stats().Players) != 0 {
		t.Fatalf("server should drop alice")
	}
}
