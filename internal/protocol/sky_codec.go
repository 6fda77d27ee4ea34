package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/sky"
)

func encodeVec2(e *encoder, v physics.Vec2) {
	e.double(1, v.X)
	e.double(2, v.Y)
}

func decodeVec2(b []byte) (v physics.Vec2, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			v.X, err = f.double()
		case 2:
			v.Y, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return v, err
}

func (e *encoder) vec2(num protowire.Number, v physics.Vec2) {
	e.message(num, func(inner *encoder) { encodeVec2(inner, v) })
}

func encodePhysical(e *encoder, p physics.Physical) {
	e.vec2(1, p.Pos)
	e.vec2(2, p.Vel)
	e.double(3, p.Rot)
	e.double(4, p.RotVel)
}

func decodePhysical(b []byte) (p physics.Physical, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			p.Pos, err = decodeInto(f, decodeVec2)
		case 2:
			p.Vel, err = decodeInto(f, decodeVec2)
		case 3:
			p.Rot, err = f.double()
		case 4:
			p.RotVel, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return p, err
}

func (e *encoder) physical(num protowire.Number, p physics.Physical) {
	e.message(num, func(inner *encoder) { encodePhysical(inner, p) })
}

// Tunings travel as named parameters so both sides agree on fields by name.
func encodeTuning(e *encoder, t plane.Tuning) {
	for _, name := range plane.ParamNames() {
		value := *t.Param(name)
		e.message(1, func(inner *encoder) {
			inner.putString(1, name)
			inner.putDouble(2, value)
		})
	}
}

func decodeTuning(b []byte) (t plane.Tuning, err error) {
	err = eachField(b, func(f field) error {
		if f.num != 1 {
			return f.unknown()
		}
		entry, err := f.message()
		if err != nil {
			return err
		}
		var name string
		var value float64
		err = eachField(entry, func(inner field) error {
			var err error
			switch inner.num {
			case 1:
				name, err = inner.string()
			case 2:
				value, err = inner.double()
			default:
				return inner.unknown()
			}
			return err
		})
		if err != nil {
			return err
		}
		param := t.Param(name)
		if param == nil {
			return fmt.Errorf("%w: tuning parameter %q", ErrUnknownTag, name)
		}
		*param = value
		return nil
	})
	return t, err
}

func encodeState(e *encoder, s plane.State) {
	e.physical(1, s.Physical)
	e.bool(2, s.Stalled)
	e.double(3, s.Afterburner)
	e.vec2(4, s.LeftoverVel)
	e.double(5, s.Airspeed)
	e.double(6, s.Throttle)
	e.double(7, s.Energy)
	e.double(8, s.Health)
	e.double(9, s.PrimaryCooldown)
}

func decodeState(b []byte) (s plane.State, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Physical, err = decodeInto(f, decodePhysical)
		case 2:
			s.Stalled, err = f.bool()
		case 3:
			s.Afterburner, err = f.double()
		case 4:
			s.LeftoverVel, err = decodeInto(f, decodeVec2)
		case 5:
			s.Airspeed, err = f.double()
		case 6:
			s.Throttle, err = f.double()
		case 7:
			s.Energy, err = f.double()
		case 8:
			s.Health, err = f.double()
		case 9:
			s.PrimaryCooldown, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodeStateClient(e *encoder, s plane.StateClient) {
	e.physical(1, s.Physical)
	e.double(2, s.Airspeed)
	e.double(3, s.Throttle)
	e.bool(4, s.Stalled)
}

func decodeStateClient(b []byte) (s plane.StateClient, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Physical, err = decodeInto(f, decodePhysical)
		case 2:
			s.Airspeed, err = f.double()
		case 3:
			s.Throttle, err = f.double()
		case 4:
			s.Stalled, err = f.bool()
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodeStateServer(e *encoder, s plane.StateServer) {
	e.double(1, s.Energy)
	e.double(2, s.Health)
	e.double(3, s.PrimaryCooldown)
}

func decodeStateServer(b []byte) (s plane.StateServer, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Energy, err = f.double()
		case 2:
			s.Health, err = f.double()
		case 3:
			s.PrimaryCooldown, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func controls(f field) (plane.Controls, error) {
	v, err := f.uint()
	if err == nil && v > uint64(plane.ControlsMask) {
		return 0, fmt.Errorf("%w: controls %#x", ErrMalformed, v)
	}
	return plane.Controls(v), err
}

func encodeSpawn(e *encoder, s sky.Spawn) {
	e.message(1, func(inner *encoder) { encodeTuning(inner, s.Tuning) })
	e.message(2, func(inner *encoder) { encodeState(inner, s.State) })
}

func decodeSpawn(b []byte) (s sky.Spawn, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Tuning, err = decodeInto(f, decodeTuning)
		case 2:
			s.State, err = decodeInto(f, decodeState)
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodeParticipationInit(e *encoder, p sky.ParticipationInit) {
	if p.Spawn != nil {
		e.message(1, func(inner *encoder) { encodeSpawn(inner, *p.Spawn) })
	}
	e.uint(2, uint64(p.Controls))
}

func decodeParticipationInit(b []byte) (p sky.ParticipationInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			p.Spawn, err = decodeOptional(f, decodeSpawn)
		case 2:
			p.Controls, err = controls(f)
		default:
			return f.unknown()
		}
		return err
	})
	return p, err
}

func encodeParticipationDelta(e *encoder, d sky.ParticipationDelta) {
	if d.Spawn != nil {
		e.message(1, func(inner *encoder) { encodeSpawn(inner, *d.Spawn) })
	}
	e.bool(2, d.PlaneAlive)
	if d.State != nil {
		e.message(3, func(inner *encoder) { encodeState(inner, *d.State) })
	}
	if d.ServerState != nil {
		e.message(4, func(inner *encoder) { encodeStateServer(inner, *d.ServerState) })
	}
	if d.Controls != nil {
		e.putUint(5, uint64(*d.Controls))
	}
}

func decodeParticipationDelta(b []byte) (d sky.ParticipationDelta, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.Spawn, err = decodeOptional(f, decodeSpawn)
		case 2:
			d.PlaneAlive, err = f.bool()
		case 3:
			d.State, err = decodeOptional(f, decodeState)
		case 4:
			d.ServerState, err = decodeOptional(f, decodeStateServer)
		case 5:
			var c plane.Controls
			c, err = controls(f)
			d.Controls = &c
		default:
			return f.unknown()
		}
		return err
	})
	return d, err
}

func encodeParticipationInput(e *encoder, in sky.ParticipationInput) {
	if in.PlaneState != nil {
		e.message(1, func(inner *encoder) { encodeStateClient(inner, *in.PlaneState) })
	}
	if in.Controls != nil {
		e.putUint(2, uint64(*in.Controls))
	}
}

func decodeParticipationInput(b []byte) (in sky.ParticipationInput, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			in.PlaneState, err = decodeOptional(f, decodeStateClient)
		case 2:
			var c plane.Controls
			c, err = controls(f)
			in.Controls = &c
		default:
			return f.unknown()
		}
		return err
	})
	return in, err
}

func encodeSettings(e *encoder, s sky.SkySettingsData) {
	e.double(1, s.ViewScale)
	e.double(2, s.Gravity)
}

func decodeSettings(b []byte) (s sky.SkySettingsData, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.ViewScale, err = f.double()
		case 2:
			s.Gravity, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodeSettingsDelta(e *encoder, d sky.SkySettingsDelta) {
	if d.ViewScale != nil {
		e.putDouble(1, *d.ViewScale)
	}
	if d.Gravity != nil {
		e.putDouble(2, *d.Gravity)
	}
}

func decodeSettingsDelta(b []byte) (d sky.SkySettingsDelta, err error) {
	err = eachField(b, func(f field) error {
		var v float64
		var err error
		switch f.num {
		case 1:
			v, err = f.double()
			d.ViewScale = &v
		case 2:
			v, err = f.double()
			d.Gravity = &v
		default:
			return f.unknown()
		}
		return err
	})
	return d, err
}

func encodeEntityInit(e *encoder, i sky.EntityInit) {
	if i.Movement != nil {
		e.message(1, func(inner *encoder) { inner.double(1, i.Movement.GravityScale) })
	}
	e.string(2, i.Fill)
	e.vec2(3, i.Shape)
	e.physical(4, i.Physical)
	e.double(5, i.Lifetime)
	e.double(6, i.Expiry)
	if i.Owner != nil {
		e.pid(7, *i.Owner)
	}
	e.double(8, i.Damage)
}

func decodeMovement(b []byte) (m sky.EntityMovement, err error) {
	err = eachField(b, func(f field) error {
		if f.num != 1 {
			return f.unknown()
		}
		var err error
		m.GravityScale, err = f.double()
		return err
	})
	return m, err
}

func decodeEntityInit(b []byte) (i sky.EntityInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			i.Movement, err = decodeOptional(f, decodeMovement)
		case 2:
			i.Fill, err = f.string()
		case 3:
			i.Shape, err = decodeInto(f, decodeVec2)
		case 4:
			i.Physical, err = decodeInto(f, decodePhysical)
		case 5:
			i.Lifetime, err = f.double()
		case 6:
			i.Expiry, err = f.double()
		case 7:
			var pid networked.PID
			pid, err = f.pid()
			i.Owner = &pid
		case 8:
			i.Damage, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return i, err
}

func encodeEntityDelta(e *encoder, d sky.EntityDelta) { e.physical(1, d.Physical) }

func decodeEntityDelta(b []byte) (d sky.EntityDelta, err error) {
	err = eachField(b, func(f field) error {
		if f.num != 1 {
			return f.unknown()
		}
		var err error
		d.Physical, err = decodeInto(f, decodePhysical)
		return err
	})
	return d, err
}

func encodeExplosionInit(e *encoder, i sky.ExplosionInit) {
	e.vec2(1, i.Pos)
	e.double(2, i.Radius)
	e.double(3, i.Lifetime)
	e.double(4, i.Expiry)
}

func decodeExplosionInit(b []byte) (i sky.ExplosionInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			i.Pos, err = decodeInto(f, decodeVec2)
		case 2:
			i.Radius, err = f.double()
		case 3:
			i.Lifetime, err = f.double()
		case 4:
			i.Expiry, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return i, err
}

func encodeZoneInit(e *encoder, i sky.ZoneInit) {
	e.vec2(1, i.Pos)
	e.double(2, i.Radius)
	e.double(3, i.Cooldown)
	e.double(4, i.CooldownRate)
}

func decodeZoneInit(b []byte) (i sky.ZoneInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			i.Pos, err = decodeInto(f, decodeVec2)
		case 2:
			i.Radius, err = f.double()
		case 3:
			i.Cooldown, err = f.double()
		case 4:
			i.CooldownRate, err = f.double()
		default:
			return f.unknown()
		}
		return err
	})
	return i, err
}

func encodeZoneDelta(e *encoder, d sky.ZoneDelta) {
	if d.Cooldown != nil {
		e.putDouble(1, *d.Cooldown)
	}
}

func decodeZoneDelta(b []byte) (d sky.ZoneDelta, err error) {
	err = eachField(b, func(f field) error {
		if f.num != 1 {
			return f.unknown()
		}
		v, err := f.double()
		d.Cooldown = &v
		return err
	})
	return d, err
}

func encodeHomeBaseInit(e *encoder, i sky.HomeBaseInit) {
	e.vec2(1, i.Pos)
	e.double(2, i.Radius)
	e.double(3, i.Rot)
	e.uint(4, uint64(i.Team))
}

func decodeHomeBaseInit(b []byte) (i sky.HomeBaseInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			i.Pos, err = decodeInto(f, decodeVec2)
		case 2:
			i.Radius, err = f.double()
		case 3:
			i.Rot, err = f.double()
		case 4:
			i.Team, err = team(f)
		default:
			return f.unknown()
		}
		return err
	})
	return i, err
}

// decodeEmpty accepts the empty delta messages of static components.
func decodeEmpty[T any](b []byte) (v T, err error) {
	err = eachField(b, func(f field) error { return f.unknown() })
	return v, err
}

func encodeNetMapDelta[I, D any](e *encoder, d networked.NetMapDelta[I, D], encInit func(*encoder, I), encDelta func(*encoder, D)) {
	entries(e, 1, d.Inits, func(inner *encoder, init I) {
		inner.message(2, func(m *encoder) { encInit(m, init) })
	})
	// A live element without a change is an entry with no value.
	for _, pid := range networked.SortedPIDs(d.Deltas) {
		delta := d.Deltas[pid]
		e.message(2, func(inner *encoder) {
			inner.pid(1, pid)
			if delta != nil {
				inner.message(2, func(m *encoder) { encDelta(m, *delta) })
			}
		})
	}
}

func decodeNetMapDelta[I, D any](b []byte, decInit func([]byte) (I, error), decDelta func([]byte) (D, error)) (d networked.NetMapDelta[I, D], err error) {
	d.Inits = make(map[networked.PID]I)
	d.Deltas = make(map[networked.PID]*D)
	err = eachField(b, func(f field) error {
		switch f.num {
		case 1:
			return decodeMapEntry(f, &d.Inits, decInit)
		case 2:
			pid, delta, present, err := decodeEntry(f, decDelta)
			if err != nil {
				return err
			}
			if present {
				d.Deltas[pid] = &delta
			} else {
				d.Deltas[pid] = nil
			}
			return nil
		default:
			return f.unknown()
		}
	})
	return d, err
}

func encodeSkyInit(e *encoder, s sky.SkyInit) {
	e.message(1, func(inner *encoder) { encodeSettings(inner, s.Settings) })
	entries(e, 2, s.Participations, func(inner *encoder, p sky.ParticipationInit) {
		inner.message(2, func(m *encoder) { encodeParticipationInit(m, p) })
	})
	entries(e, 3, s.Entities, func(inner *encoder, i sky.EntityInit) {
		inner.message(2, func(m *encoder) { encodeEntityInit(m, i) })
	})
	entries(e, 4, s.Explosions, func(inner *encoder, i sky.ExplosionInit) {
		inner.message(2, func(m *encoder) { encodeExplosionInit(m, i) })
	})
	entries(e, 5, s.Zones, func(inner *encoder, i sky.ZoneInit) {
		inner.message(2, func(m *encoder) { encodeZoneInit(m, i) })
	})
	entries(e, 6, s.HomeBases, func(inner *encoder, i sky.HomeBaseInit) {
		inner.message(2, func(m *encoder) { encodeHomeBaseInit(m, i) })
	})
}

func decodeSkyInit(b []byte) (s sky.SkyInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Settings, err = decodeInto(f, decodeSettings)
		case 2:
			err = decodeMapEntry(f, &s.Participations, decodeParticipationInit)
		case 3:
			err = decodeMapEntry(f, &s.Entities, decodeEntityInit)
		case 4:
			err = decodeMapEntry(f, &s.Explosions, decodeExplosionInit)
		case 5:
			err = decodeMapEntry(f, &s.Zones, decodeZoneInit)
		case 6:
			err = decodeMapEntry(f, &s.HomeBases, decodeHomeBaseInit)
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodeSkyDelta(e *encoder, d sky.SkyDelta) {
	if d.Settings != nil {
		e.message(1, func(inner *encoder) { encodeSettingsDelta(inner, *d.Settings) })
	}
	entries(e, 2, d.Participations, func(inner *encoder, p sky.ParticipationDelta) {
		inner.message(2, func(m *encoder) { encodeParticipationDelta(m, p) })
	})
	e.message(3, func(inner *encoder) {
		encodeNetMapDelta(inner, d.Entities, encodeEntityInit, encodeEntityDelta)
	})
	e.message(4, func(inner *encoder) {
		encodeNetMapDelta(inner, d.Explosions, encodeExplosionInit, func(*encoder, sky.ExplosionDelta) {})
	})
	e.message(5, func(inner *encoder) {
		encodeNetMapDelta(inner, d.Zones, encodeZoneInit, encodeZoneDelta)
	})
	e.message(6, func(inner *encoder) {
		encodeNetMapDelta(inner, d.HomeBases, encodeHomeBaseInit, func(*encoder, sky.HomeBaseDelta) {})
	})
}

func decodeSkyDelta(b []byte) (d sky.SkyDelta, err error) {
	d.Participations = make(map[networked.PID]sky.ParticipationDelta)
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.Settings, err = decodeOptional(f, decodeSettingsDelta)
		case 2:
			err = decodeMapEntry(f, &d.Participations, decodeParticipationDelta)
		case 3:
			d.Entities, err = decodeInto(f, func(b []byte) (sky.EntitySetDelta, error) {
				return decodeNetMapDelta(b, decodeEntityInit, decodeEntityDelta)
			})
		case 4:
			d.Explosions, err = decodeInto(f, func(b []byte) (sky.ExplosionSetDelta, error) {
				return decodeNetMapDelta(b, decodeExplosionInit, decodeEmpty[sky.ExplosionDelta])
			})
		case 5:
			d.Zones, err = decodeInto(f, func(b []byte) (sky.ZoneSetDelta, error) {
				return decodeNetMapDelta(b, decodeZoneInit, decodeZoneDelta)
			})
		case 6:
			d.HomeBases, err = decodeInto(f, func(b []byte) (sky.HomeBaseSetDelta, error) {
				return decodeNetMapDelta(b, decodeHomeBaseInit, decodeEmpty[sky.HomeBaseDelta])
			})
		default:
			return f.unknown()
		}
		return err
	})
	return d, err
}

func encodeEnvInit(e *encoder, env sky.EnvInit) {
	e.string(1, env.MapName)
	e.message(2, func(inner *encoder) { encodeSkyInit(inner, env.Sky) })
}

func decodeEnvInit(b []byte) (env sky.EnvInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			env.MapName, err = f.string()
		case 2:
			env.Sky, err = decodeInto(f, decodeSkyInit)
		default:
			return f.unknown()
		}
		return err
	})
	return env, err
}

func encodeSkyHandleInit(e *encoder, h sky.SkyHandleInit) {
	if h.Env != nil {
		e.message(1, func(inner *encoder) { encodeEnvInit(inner, *h.Env) })
	}
}

func decodeSkyHandleInit(b []byte) (h sky.SkyHandleInit, err error) {
	err = eachField(b, func(f field) error {
		if f.num != 1 {
			return f.unknown()
		}
		var err error
		h.Env, err = decodeOptional(f, decodeEnvInit)
		return err
	})
	return h, err
}

func encodeSkyHandleDelta(e *encoder, d sky.SkyHandleDelta) {
	if d.Init != nil {
		e.message(1, func(inner *encoder) { encodeEnvInit(inner, *d.Init) })
	}
	if d.Delta != nil {
		e.message(2, func(inner *encoder) { encodeSkyDelta(inner, *d.Delta) })
	}
}

func decodeSkyHandleDelta(b []byte) (d sky.SkyHandleDelta, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.Init, err = decodeOptional(f, decodeEnvInit)
		case 2:
			d.Delta, err = decodeOptional(f, decodeSkyDelta)
		default:
			return f.unknown()
		}
		return err
	})
	return d, err
}
