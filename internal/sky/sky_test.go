package sky

import (
	"math"
	"testing"
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
)

const testStep = 10 * time.Millisecond

type death struct {
	victim networked.PID
	killer *networked.PID
}

type recordingSkyListener struct {
	deaths []death
}

func (r *recordingSkyListener) OnPlaneDeath(victim, killer *arena.Player) {
	d := death{victim: victim.PID()}
	if killer != nil {
		pid := killer.PID()
		d.killer = &pid
	}
	r.deaths = append(r.deaths, d)
}

func newTestArena() *arena.Arena {
	return arena.NewArena(arena.ArenaInit{Name: "test", NextEnv: DefaultMapName, TeamCount: 2},
		arena.WithLogger(logging.NewTestLogger()))
}

func newTestSky(a *arena.Arena, opts ...Option) *Sky {
	m := DefaultMap()
	opts = append([]Option{WithLogger(logging.NewTestLogger())}, opts...)
	return NewSky(a, m, InitFromMap(m), opts...)
}

func connect(a *arena.Arena, nick string) *arena.Player {
	delta := a.ConnectPlayer(nick)
	return a.GetPlayer(delta.Join.PID)
}

func TestSkyTracksRoster(t *testing.T) {
	a := newTestArena()
	early := connect(a, "early")
	s := newTestSky(a)
	late := connect(a, "late")

	if s.GetParticipation(early) == nil || s.GetParticipation(late) == nil {
		t.Fatalf("expected participations for every player")
	}

	a.ApplyDelta(a.QuitPlayer(early))
	if s.GetParticipation(early) != nil {
		t.Fatalf("participation should be dropped on quit")
	}
	count := 0
	s.Participations(func(networked.PID, *Participation) { count++ })
	if count != 1 {
		t.Fatalf("expected one participation, got %d", count)
	}
}

func TestSpawnReplicatesOnceThenStreamsState(t *testing.T) {
	a := newTestArena()
	p := connect(a, "pilot")
	s := newTestSky(a)

	a.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 400, Y: 400}, 0)
	part := s.GetParticipation(p)
	if !part.IsSpawned() {
		t.Fatalf("expected plane after spawn")
	}

	//1.- The first collection announces the spawn.
	delta, ok := s.CollectDelta()
	if !ok || delta.Participations[p.PID()].Spawn == nil {
		t.Fatalf("expected spawn in first delta, got %+v", delta.Participations)
	}

	//2.- Later collections carry the state instead.
	delta, ok = s.CollectDelta()
	got := delta.Participations[p.PID()]
	if !ok || got.Spawn != nil || got.State == nil || !got.PlaneAlive {
		t.Fatalf("expected state delta, got %+v", got)
	}
}

func TestSuicideKillsPlaneWithoutKiller(t *testing.T) {
	a := newTestArena()
	p := connect(a, "pilot")
	listener := &recordingSkyListener{}
	s := newTestSky(a, WithListener(listener))

	a.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 400, Y: 400}, 0)
	a.DoAction(p, plane.ActionSuicide, true)
	a.Tick(testStep)

	part := s.GetParticipation(p)
	if part.IsSpawned() {
		t.Fatalf("plane should be dead after suicide")
	}
	if part.Controls().Get(plane.ActionSuicide) {
		t.Fatalf("suicide control should be cleared")
	}
	if len(listener.deaths) != 1 || listener.deaths[0].killer != nil {
		t.Fatalf("unexpected deaths %+v", listener.deaths)
	}
	if s.Explosions().Len() != 1 {
		t.Fatalf("expected an explosion, got %d", s.Explosions().Len())
	}
}

func TestOwnedEntityDamagesAndCreditsKiller(t *testing.T) {
	a := newTestArena()
	shooter := connect(a, "shooter")
	victim := connect(a, "victim")
	listener := &recordingSkyListener{}
	s := newTestSky(a, WithListener(listener))

	pos := physics.Vec2{X: 600, Y: 300}
	a.DoSpawn(victim, plane.DefaultTuning(), pos, 0)
	owner := shooter.PID()
	s.SpawnEntity(EntityInit{
		Shape:    physics.Vec2{X: 12, Y: 4},
		Physical: physics.Physical{Pos: pos},
		Owner:    &owner,
		Damage:   1,
	})

	a.Tick(testStep)

	if s.GetParticipation(victim).IsSpawned() {
		t.Fatalf("victim should be dead")
	}
	if len(listener.deaths) != 1 {
		t.Fatalf("expected one death, got %+v", listener.deaths)
	}
	if got := listener.deaths[0]; got.victim != victim.PID() || got.killer == nil || *got.killer != shooter.PID() {
		t.Fatalf("unexpected death %+v", got)
	}

	//1.- The spent entity disappears on the following tick.
	a.Tick(testStep)
	if s.Entities().Len() != 0 {
		t.Fatalf("expected entity to be removed, have %d", s.Entities().Len())
	}
}

func TestOwnedEntityIgnoresOwner(t *testing.T) {
	a := newTestArena()
	p := connect(a, "pilot")
	s := newTestSky(a)

	pos := physics.Vec2{X: 600, Y: 300}
	a.DoSpawn(p, plane.DefaultTuning(), pos, 0)
	owner := p.PID()
	s.SpawnEntity(EntityInit{
		Shape:    physics.Vec2{X: 12, Y: 4},
		Physical: physics.Physical{Pos: pos},
		Owner:    &owner,
		Damage:   1,
	})
	a.Tick(testStep)

	if !s.GetParticipation(p).IsSpawned() {
		t.Fatalf("own shots must not hurt")
	}
}

func TestPrimaryFiresLaser(t *testing.T) {
	a := newTestArena()
	p := connect(a, "pilot")
	s := newTestSky(a)

	a.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 400, Y: 400}, 0)
	part := s.GetParticipation(p)
	part.Plane().State.PrimaryCooldown = 0
	a.DoAction(p, plane.ActionPrimary, true)
	a.Tick(testStep)

	if s.Entities().Len() != 1 {
		t.Fatalf("expected one laser, got %d", s.Entities().Len())
	}
	laser, _ := s.Entities().Get(0)
	state := laser.State()
	if state.Owner == nil || *state.Owner != p.PID() || state.Damage != LaserDamage {
		t.Fatalf("unexpected laser %+v", state)
	}
	if part.Plane().State.PrimaryCooldown == 0 {
		t.Fatalf("firing should reset the cooldown")
	}
}

func TestZoneRefillsEnergyAndCoolsDown(t *testing.T) {
	a := newTestArena()
	p := connect(a, "pilot")
	s := newTestSky(a)

	a.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 800, Y: 450}, 0)
	part := s.GetParticipation(p)
	part.Plane().State.Energy = 0.1
	a.Tick(testStep)

	if part.Plane().State.Energy != 1 {
		t.Fatalf("expected full energy, got %f", part.Plane().State.Energy)
	}
	zone, _ := s.Zones().Get(0)
	if zone.Ready() {
		t.Fatalf("zone should be cooling down")
	}
	delta, ok := s.CollectDelta()
	if !ok || delta.Zones.Deltas[0] == nil || *delta.Zones.Deltas[0].Cooldown != 1 {
		t.Fatalf("expected zone cooldown in delta, got %+v", delta.Zones)
	}
}

func TestEntityExpiresOnServer(t *testing.T) {
	a := newTestArena()
	s := newTestSky(a)

	s.SpawnEntity(EntityInit{
		Movement: &EntityMovement{},
		Shape:    physics.Vec2{X: 10, Y: 10},
		Physical: physics.Physical{Pos: physics.Vec2{X: 100, Y: 100}},
		Expiry:   0.015,
	})
	s.CollectDelta()

	//1.- Lifetime passes the expiry on the second tick, removal happens on the third.
	a.Tick(testStep)
	a.Tick(testStep)
	if s.Entities().Len() != 1 {
		t.Fatalf("entity removed too early")
	}
	a.Tick(testStep)
	if s.Entities().Len() != 0 {
		t.Fatalf("expected expired entity to be removed")
	}
	if _, ok := s.CollectDelta(); !ok {
		t.Fatalf("removal should make the delta useful")
	}
}

func TestClientSkyDoesNotDecideGameplay(t *testing.T) {
	server := newTestArena()
	p := connect(server, "pilot")
	client := arena.NewArena(server.CaptureInitializer(),
		arena.WithLogger(logging.NewTestLogger()), arena.AsClient(p.PID()))
	s := newTestSky(client)

	cp := client.GetPlayer(p.PID())
	client.DoSpawn(cp, plane.DefaultTuning(), physics.Vec2{X: 400, Y: 400}, 0)
	client.DoAction(cp, plane.ActionSuicide, true)
	client.Tick(testStep)

	if !s.GetParticipation(cp).IsSpawned() {
		t.Fatalf("client must not apply suicide locally")
	}
}

func TestSkyReplicatesToClient(t *testing.T) {
	server := newTestArena()
	p := connect(server, "pilot")
	serverSky := newTestSky(server)
	server.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 400, Y: 400}, 0)
	serverSky.SpawnEntity(EntityInit{
		Movement: &EntityMovement{},
		Shape:    physics.Vec2{X: 10, Y: 10},
		Physical: physics.Physical{Pos: physics.Vec2{X: 100, Y: 100}, Vel: physics.Vec2{X: 50}},
	})

	//1.- The client starts from a captured initializer.
	client := arena.NewArena(server.CaptureInitializer(),
		arena.WithLogger(logging.NewTestLogger()), arena.AsClient(p.PID()))
	m := DefaultMap()
	clientSky := NewSky(client, m, serverSky.CaptureInitializer(), WithLogger(logging.NewTestLogger()))
	cp := client.GetPlayer(p.PID())
	if !clientSky.GetParticipation(cp).IsSpawned() {
		t.Fatalf("client should see the spawned plane")
	}
	if clientSky.Entities().Len() != 1 {
		t.Fatalf("client should see the entity")
	}

	//2.- Deltas keep it in step.
	for i := 0; i < 5; i++ {
		server.Tick(testStep)
		delta, ok := serverSky.CollectDelta()
		if !ok {
			t.Fatalf("tick %d produced no delta", i)
		}
		if !delta.VerifyStructure() {
			t.Fatalf("tick %d produced an invalid delta", i)
		}
		clientSky.ApplyDelta(delta)
	}

	want := serverSky.GetParticipation(p).Plane().State.Physical
	got := clientSky.GetParticipation(cp).Plane().State.Physical
	if !got.Approx(want, 1e-9) {
		t.Fatalf("client plane %+v, server plane %+v", got, want)
	}
	serverEntity, _ := serverSky.Entities().Get(0)
	clientEntity, _ := clientSky.Entities().Get(0)
	if math.Abs(serverEntity.State().Physical.Pos.X-clientEntity.State().Physical.Pos.X) > 1e-9 {
		t.Fatalf("entity positions diverged")
	}

	//3.- A server-side kill reaches the client.
	server.DoKill(p)
	delta, _ := serverSky.CollectDelta()
	clientSky.ApplyDelta(delta)
	if clientSky.GetParticipation(cp).IsSpawned() {
		t.Fatalf("client plane should be dead")
	}
}

func TestLossyLinkConvergesOnCriticalDeltas(t *testing.T) {
	server := newTestArena()
	p := connect(server, "pilot")
	serverSky := newTestSky(server)
	client := arena.NewArena(server.CaptureInitializer(),
		arena.WithLogger(logging.NewTestLogger()), arena.AsClient(p.PID()))
	clientSky := NewSky(client, DefaultMap(), serverSky.CaptureInitializer(), WithLogger(logging.NewTestLogger()))
	cp := client.GetPlayer(p.PID())

	// deliver mimics a link that loses every delta it is allowed to lose.
	delivered := 0
	deliver := func(lossy bool) {
		delta, ok := serverSky.CollectDelta()
		if !ok || (lossy && !delta.Critical()) {
			return
		}
		clientSky.ApplyDelta(delta)
		delivered++
	}

	//1.- The spawn and the new entity ride a critical delta.
	server.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 400, Y: 400}, 0)
	serverSky.SpawnEntity(EntityInit{
		Movement: &EntityMovement{},
		Shape:    physics.Vec2{X: 10, Y: 10},
		Physical: physics.Physical{Pos: physics.Vec2{X: 100, Y: 100}, Vel: physics.Vec2{X: 50}},
	})
	deliver(true)
	if delivered != 1 {
		t.Fatalf("the spawn delta must be critical")
	}

	//2.- Plain state updates may all be lost.
	for i := 0; i < 10; i++ {
		server.Tick(testStep)
		deliver(true)
	}
	if delivered != 1 {
		t.Fatalf("state-only deltas must not be critical, delivered %d", delivered)
	}
	if !clientSky.GetParticipation(cp).IsSpawned() || clientSky.Entities().Len() != 1 {
		t.Fatalf("client lost the spawn or the entity")
	}

	//3.- The next delivered update brings the mirror back in step.
	server.Tick(testStep)
	deliver(false)
	want := serverSky.GetParticipation(p).Plane().State.Physical
	got := clientSky.GetParticipation(cp).Plane().State.Physical
	if !got.Approx(want, 1e-9) {
		t.Fatalf("client plane %+v, server plane %+v", got, want)
	}

	//4.- A death is critical again.
	server.DoKill(p)
	deliver(true)
	if clientSky.GetParticipation(cp).IsSpawned() {
		t.Fatalf("the death must reach the client")
	}
	if clientSky.Explosions().Len() != serverSky.Explosions().Len() {
		t.Fatalf("explosions diverged: client %d server %d", clientSky.Explosions().Len(), serverSky.Explosions().Len())
	}
}

func TestSkyDeltaRespectAuthority(t *testing.T) {
	state := plane.DefaultState()
	controls := plane.Controls(0)
	controls.Set(plane.ActionThrust, true)
	delta := SkyDelta{Participations: map[networked.PID]ParticipationDelta{
		0: {PlaneAlive: true, State: &state, Controls: &controls},
		1: {PlaneAlive: true, State: &state, Controls: &controls},
	}}

	narrowed := delta.RespectAuthority(0)
	own := narrowed.Participations[0]
	if own.State != nil || own.ServerState == nil || own.Controls != nil {
		t.Fatalf("own participation not narrowed: %+v", own)
	}
	other := narrowed.Participations[1]
	if other.State == nil || other.Controls == nil {
		t.Fatalf("other participation should be untouched: %+v", other)
	}
	if delta.Participations[0].State == nil {
		t.Fatalf("narrowing must not mutate the source delta")
	}
}

func TestChangeSettingsUpdatesWorld(t *testing.T) {
	a := newTestArena()
	s := newTestSky(a)
	s.CollectDelta()

	s.ChangeSettings(ChangeGravity(2))
	if s.World().Gravity != 2*physics.DefaultGravity {
		t.Fatalf("unexpected gravity %f", s.World().Gravity)
	}
	delta, ok := s.CollectDelta()
	if !ok || delta.Settings == nil || delta.Settings.ViewScale == nil || *delta.Settings.Gravity != 2 {
		t.Fatalf("expected full settings delta, got %+v", delta.Settings)
	}
	if delta, _ := s.CollectDelta(); delta.Settings != nil {
		t.Fatalf("settings should be reported once")
	}
}

func TestSpawnPointPrefersHomeBase(t *testing.T) {
	a := newTestArena()
	m := DefaultMap()
	m.HomeBases = []HomeBaseInit{{Pos: physics.Vec2{X: 50, Y: 60}, Rot: 90, Team: arena.TeamBlue}}
	s := NewSky(a, m, InitFromMap(m), WithLogger(logging.NewTestLogger()))

	pos, rot := s.SpawnPoint(arena.TeamBlue, 0)
	if pos != (physics.Vec2{X: 50, Y: 60}) || rot != 90 {
		t.Fatalf("expected home base spawn, got %v %f", pos, rot)
	}
	pos, _ = s.SpawnPoint(arena.TeamRed, 0)
	if pos != (physics.Vec2{X: 200, Y: 200}) {
		t.Fatalf("expected map spawn for red, got %v", pos)
	}
}

func TestCloseFreesBodies(t *testing.T) {
	a := newTestArena()
	p := connect(a, "pilot")
	s := newTestSky(a)
	a.DoSpawn(p, plane.DefaultTuning(), physics.Vec2{X: 400, Y: 400}, 0)
	s.SpawnEntity(EntityInit{Shape: physics.Vec2{X: 1, Y: 1}})
	world := s.World()

	s.Close()
	if world.Len() != 0 {
		t.Fatalf("expected empty world, have %d bodies", world.Len())
	}
	if s.Attached() {
		t.Fatalf("sky should be detached")
	}
}
