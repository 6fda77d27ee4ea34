// Package sky is the live game: plane participations, sky components and the
// physics world they share, replicated through initializers and deltas.
package sky

import (
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
)

const (
	// LaserSpeed is the muzzle speed of a primary shot, px / s.
	LaserSpeed = 1000
	// LaserLifetime bounds how long a shot flies, in seconds.
	LaserLifetime = 1.0
	// LaserDamage is the health fraction a shot removes.
	LaserDamage = 0.25

	explosionRadius   = 100
	explosionLifetime = 1.0
)

// SkyInit describes a sky in full.
type SkyInit struct {
	Settings       SkySettingsData                     `json:"settings"`
	Participations map[networked.PID]ParticipationInit `json:"participations"`
	Entities       map[networked.PID]EntityInit        `json:"entities"`
	Explosions     map[networked.PID]ExplosionInit     `json:"explosions"`
	Zones          map[networked.PID]ZoneInit          `json:"zones"`
	HomeBases      map[networked.PID]HomeBaseInit      `json:"homeBases"`
}

// VerifyStructure checks settings and every component.
func (i SkyInit) VerifyStructure() bool {
	return i.Settings.VerifyStructure() &&
		networked.VerifyMap(i.Participations) &&
		networked.VerifyMap(i.Entities) &&
		networked.VerifyMap(i.Explosions) &&
		networked.VerifyMap(i.Zones) &&
		networked.VerifyMap(i.HomeBases)
}

// InitFromMap is the initial state of a sky started on m.
func InitFromMap(m *Map) SkyInit {
	init := SkyInit{
		Settings:  m.Settings,
		Zones:     make(map[networked.PID]ZoneInit, len(m.Zones)),
		HomeBases: make(map[networked.PID]HomeBaseInit, len(m.HomeBases)),
	}
	for i, zone := range m.Zones {
		init.Zones[networked.PID(i)] = zone
	}
	for i, base := range m.HomeBases {
		init.HomeBases[networked.PID(i)] = base
	}
	return init
}

// SkyDelta carries one collection of sky changes.
type SkyDelta struct {
	Settings       *SkySettingsDelta                    `json:"settings,omitempty"`
	Participations map[networked.PID]ParticipationDelta `json:"participations"`
	Entities       EntitySetDelta                       `json:"entities"`
	Explosions     ExplosionSetDelta                    `json:"explosions"`
	Zones          ZoneSetDelta                         `json:"zones"`
	HomeBases      HomeBaseSetDelta                     `json:"homeBases"`
}

// VerifyStructure checks settings, participations and new components.
func (d SkyDelta) VerifyStructure() bool {
	return networked.VerifyOptional(d.Settings) &&
		networked.VerifyMap(d.Participations) &&
		networked.VerifyMap(d.Entities.Inits) &&
		networked.VerifyMap(d.Explosions.Inits) &&
		networked.VerifyMap(d.Zones.Inits) &&
		networked.VerifyMap(d.HomeBases.Inits)
}

// Critical reports whether losing the delta would leave a mirror behind for
// good: settings changes, plane lifecycle and component additions or
// removals are not repeated by later deltas.
func (d SkyDelta) Critical() bool {
	if d.Settings != nil {
		return true
	}
	for _, part := range d.Participations {
		if part.Lifecycle() {
			return true
		}
	}
	return d.Entities.Structural() || d.Explosions.Structural() ||
		d.Zones.Structural() || d.HomeBases.Structural()
}

// RespectAuthority returns the delta as the client controlling pid should
// see it: only that player's participation delta is narrowed.
func (d SkyDelta) RespectAuthority(pid networked.PID) SkyDelta {
	out := d
	out.Participations = make(map[networked.PID]ParticipationDelta, len(d.Participations))
	for id, delta := range d.Participations {
		if id == pid {
			delta = delta.RespectClientAuthority()
		}
		out.Participations[id] = delta
	}
	return out
}

// SkyListener is told about plane deaths the sky decides on. killer is nil
// for suicides.
type SkyListener interface {
	OnPlaneDeath(victim, killer *arena.Player)
}

// Option configures a Sky.
type Option func(*Sky)

// WithLogger routes sky logs to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Sky) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithListener registers the handler of plane deaths.
func WithListener(listener SkyListener) Option {
	return func(s *Sky) { s.listener = listener }
}

// Sky is the game in progress. It is a subsystem of its arena holding one
// Participation per player.
type Sky struct {
	arena.Subsystem[Participation]
	arena.BaseListener

	log      *logging.Logger
	listener SkyListener

	gameMap  *Map
	world    *physics.World
	settings *SkySettings

	participations map[networked.PID]*Participation
	pending        map[networked.PID]ParticipationInit

	entities   *EntitySet
	explosions *ExplosionSet
	zones      *ZoneSet
	homeBases  *HomeBaseSet
}

// NewSky instantiates a sky on m and attaches it to a.
func NewSky(a *arena.Arena, m *Map, init SkyInit, opts ...Option) *Sky {
	s := &Sky{
		log:            logging.L(),
		gameMap:        m,
		settings:       NewSkySettings(init.Settings),
		participations: make(map[networked.PID]*Participation),
		pending:        init.Participations,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named(logging.OriginEngine, "sky")

	//1.- Build the world and the component sets around it.
	s.world = physics.NewWorld(m.Dimensions, s.settings.Gravity()*physics.DefaultGravity)
	s.entities = networked.NewNetMap[*Entity, EntityInit, EntityDelta](init.Entities, entityBuilder(s.world))
	s.explosions = networked.NewNetMap[*Explosion, ExplosionInit, ExplosionDelta](init.Explosions, newExplosion)
	s.zones = networked.NewNetMap[*Zone, ZoneInit, ZoneDelta](init.Zones, newZone)
	s.homeBases = networked.NewNetMap[*HomeBase, HomeBaseInit, HomeBaseDelta](init.HomeBases, newHomeBase)

	//2.- Attaching registers a participation for every present player.
	s.Attach(a, s)
	s.pending = nil

	s.log.Info("instantiated sky", logging.String("map", m.Name),
		logging.Int("participations", len(s.participations)))
	return s
}

// Close detaches the sky and frees every physics body.
func (s *Sky) Close() {
	for _, part := range s.participations {
		part.destroy()
	}
	s.participations = make(map[networked.PID]*Participation)
	s.entities.Clear()
	s.Subsystem.Close()
}

// Accessors for the parts of the sky. None of them is nil while the sky
// is open.
func (s *Sky) Map() *Map                 { return s.gameMap }
func (s *Sky) Settings() *SkySettings    { return s.settings }
func (s *Sky) World() *physics.World     { return s.world }
func (s *Sky) Entities() *EntitySet      { return s.entities }
func (s *Sky) Explosions() *ExplosionSet { return s.explosions }
func (s *Sky) Zones() *ZoneSet           { return s.zones }
func (s *Sky) HomeBases() *HomeBaseSet   { return s.homeBases }

// GetParticipation returns p's participation, or nil.
func (s *Sky) GetParticipation(p *arena.Player) *Participation {
	return s.PlayerData(p)
}

// Participations visits participations in PID order.
func (s *Sky) Participations(fn func(pid networked.PID, part *Participation)) {
	for _, pid := range networked.SortedPIDs(s.participations) {
		if part, ok := s.participations[pid]; ok {
			fn(pid, part)
		}
	}
}

// SpawnPoint picks where a plane of team should appear: its home base if
// the map has one, otherwise a map spawn point.
func (s *Sky) SpawnPoint(team arena.Team, n int) (physics.Vec2, float64) {
	var found *HomeBaseInit
	s.homeBases.ForEach(func(_ networked.PID, base *HomeBase) {
		if found == nil && base.state.Team == team {
			state := base.state
			found = &state
		}
	})
	if found != nil {
		return found.Pos, found.Rot
	}
	spawn := s.gameMap.SpawnPoint(team, n)
	return spawn.Pos, spawn.Rot
}

// SpawnEntity adds an entity and returns its PID.
func (s *Sky) SpawnEntity(init EntityInit) networked.PID {
	return s.entities.Put(init)
}

// SpawnExplosion adds an explosion and returns its PID.
func (s *Sky) SpawnExplosion(init ExplosionInit) networked.PID {
	return s.explosions.Put(init)
}

// ChangeSettings applies a settings delta and syncs the world with it.
func (s *Sky) ChangeSettings(delta SkySettingsDelta) {
	s.settings.ApplyDelta(delta)
	s.syncSettings()
}

func (s *Sky) syncSettings() {
	s.world.Gravity = s.settings.Gravity() * physics.DefaultGravity
}

func (s *Sky) RegisterPlayer(p *arena.Player) {
	init := s.pending[p.PID()]
	part := newParticipation(p, s.world, init)
	s.participations[p.PID()] = part
	s.SetPlayerData(p, part)
}

func (s *Sky) UnregisterPlayer(p *arena.Player) {
	if part := s.participations[p.PID()]; part != nil {
		part.destroy()
	}
	delete(s.participations, p.PID())
	s.ClearPlayerData(p)
}

func (s *Sky) OnAction(p *arena.Player, action plane.Action, state bool) {
	if part := s.PlayerData(p); part != nil {
		part.DoAction(action, state)
	}
}

func (s *Sky) OnSpawn(p *arena.Player, tuning plane.Tuning, pos physics.Vec2, rot float64) {
	if part := s.PlayerData(p); part != nil {
		part.Spawn(tuning, pos, rot)
	}
}

func (s *Sky) OnKill(p *arena.Player) {
	if part := s.PlayerData(p); part != nil {
		part.Kill()
	}
}

// OnTick advances the simulation by delta.
func (s *Sky) OnTick(delta time.Duration) {
	step := delta.Seconds()
	server := s.Arena().ServerResponsible()

	//1.- Only the server removes what expired during the previous tick.
	if server {
		s.entities.ApplyDestruction()
		s.explosions.ApplyDestruction()
	}

	//2.- Push state into the world, integrate, read it back.
	s.Participations(func(_ networked.PID, part *Participation) { part.prePhysics() })
	s.entities.ForEach(func(_ networked.PID, e *Entity) { e.prePhysics() })
	s.world.Tick(step)
	s.Participations(func(_ networked.PID, part *Participation) { part.postPhysics(step) })
	s.entities.ForEach(func(pid networked.PID, e *Entity) {
		e.postPhysics(step)
		if e.destroyable {
			s.entities.MarkDestroyed(pid)
		}
	})
	s.explosions.ForEach(func(pid networked.PID, x *Explosion) {
		x.tick(step)
		if x.destroyable {
			s.explosions.MarkDestroyed(pid)
		}
	})
	s.zones.ForEach(func(_ networked.PID, z *Zone) { z.tick(step) })

	//3.- Gameplay decisions belong to the server.
	if server {
		s.tickGameplay()
	}
}

func (s *Sky) tickGameplay() {
	s.Participations(func(pid networked.PID, part *Participation) {
		p := part.plane
		if p == nil {
			return
		}
		if part.controls.Get(plane.ActionSuicide) {
			part.controls.Set(plane.ActionSuicide, false)
			s.killPlayer(part, nil)
			return
		}
		if part.controls.Get(plane.ActionPrimary) && p.FirePrimary() {
			s.fireLaser(pid, p)
		}
		s.zones.ForEach(func(_ networked.PID, z *Zone) {
			if z.Ready() && z.Contains(p.State.Physical.Pos) {
				p.State.Energy = 1
				z.Use()
			}
		})
	})

	s.entities.ForEach(func(pid networked.PID, e *Entity) {
		if e.state.Owner == nil || e.state.Damage <= 0 || e.destroyable {
			return
		}
		s.Participations(func(victimPID networked.PID, victim *Participation) {
			if e.destroyable || victim.plane == nil || victimPID == *e.state.Owner {
				return
			}
			hit := victim.plane.Tuning.Hitbox
			reach := 0.5 * max(hit.X, hit.Y)
			if e.state.Physical.Pos.DistanceTo(victim.plane.State.Physical.Pos) > reach {
				return
			}
			e.destroyable = true
			s.entities.MarkDestroyed(pid)
			victim.plane.Damage(e.state.Damage)
			owner := *e.state.Owner
			victim.lastHitBy = &owner
		})
	})

	s.Participations(func(_ networked.PID, part *Participation) {
		if part.plane != nil && part.plane.Dead() {
			var killer *arena.Player
			if part.lastHitBy != nil {
				killer = s.Arena().GetPlayer(*part.lastHitBy)
			}
			s.killPlayer(part, killer)
		}
	})
}

func (s *Sky) fireLaser(pid networked.PID, p *plane.Plane) {
	heading := physics.FromAngle(p.State.Physical.Rot)
	owner := pid
	s.entities.Put(EntityInit{
		Movement: &EntityMovement{},
		Fill:     "laser",
		Shape:    physics.Vec2{X: 12, Y: 4},
		Physical: physics.Physical{
			Pos: p.State.Physical.Pos.Add(heading.Scale(p.Tuning.Hitbox.X / 2)),
			Vel: heading.Scale(LaserSpeed),
			Rot: p.State.Physical.Rot,
		},
		Expiry: LaserLifetime,
		Owner:  &owner,
		Damage: LaserDamage,
	})
}

func (s *Sky) killPlayer(part *Participation, killer *arena.Player) {
	if part.plane == nil {
		return
	}
	s.explosions.Put(ExplosionInit{
		Pos:    part.plane.State.Physical.Pos,
		Radius: explosionRadius,
		Expiry: explosionLifetime,
	})
	victim := part.player
	s.log.Debug("plane destroyed", logging.Uint32("pid", uint32(victim.PID())))
	if s.listener != nil {
		s.listener.OnPlaneDeath(victim, killer)
	}
	s.Arena().DoKill(victim)
}

func (s *Sky) CaptureInitializer() SkyInit {
	init := SkyInit{
		Settings:       s.settings.CaptureInitializer(),
		Participations: make(map[networked.PID]ParticipationInit, len(s.participations)),
		Entities:       s.entities.CaptureInitializer(),
		Explosions:     s.explosions.CaptureInitializer(),
		Zones:          s.zones.CaptureInitializer(),
		HomeBases:      s.homeBases.CaptureInitializer(),
	}
	for pid, part := range s.participations {
		init.Participations[pid] = part.CaptureInitializer()
	}
	return init
}

// ApplyDelta mirrors a collected delta. Participation deltas for players
// that already left are ignored.
func (s *Sky) ApplyDelta(delta SkyDelta) {
	for _, pid := range networked.SortedPIDs(delta.Participations) {
		if part := s.participations[pid]; part != nil {
			part.ApplyDelta(delta.Participations[pid])
		}
	}
	if delta.Settings != nil {
		s.ChangeSettings(*delta.Settings)
	}
	s.entities.ApplyDelta(delta.Entities)
	s.explosions.ApplyDelta(delta.Explosions)
	s.zones.ApplyDelta(delta.Zones)
	s.homeBases.ApplyDelta(delta.HomeBases)
}

// CollectDelta gathers every change since the previous collection.
func (s *Sky) CollectDelta() (SkyDelta, bool) {
	delta := SkyDelta{Participations: make(map[networked.PID]ParticipationDelta)}
	useful := false

	if settings, ok := s.settings.CollectDelta(); ok {
		delta.Settings = &settings
		useful = true
	}
	for pid, part := range s.participations {
		if partDelta, ok := part.CollectDelta(); ok {
			delta.Participations[pid] = partDelta
			useful = true
		}
	}

	var ok bool
	delta.Entities, ok = s.entities.CollectDelta()
	useful = useful || ok
	delta.Explosions, ok = s.explosions.CollectDelta()
	useful = useful || ok
	delta.Zones, ok = s.zones.CollectDelta()
	useful = useful || ok
	delta.HomeBases, ok = s.homeBases.CollectDelta()
	useful = useful || ok
	return delta, useful
}
