package protocol

import (
	"fmt"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/flowcontrol"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/scoreboard"
)

func team(f field) (arena.Team, error) {
	v, err := f.uint8()
	if err == nil && !arena.Team(v).Valid() {
		return 0, fmt.Errorf("%w: team %d", ErrMalformed, v)
	}
	return arena.Team(v), err
}

func mode(f field) (arena.Mode, error) {
	v, err := f.uint8()
	if err == nil && !arena.Mode(v).Valid() {
		return 0, fmt.Errorf("%w: mode %d", ErrMalformed, v)
	}
	return arena.Mode(v), err
}

func encodeFlowStats(e *encoder, s flowcontrol.FlowStats) {
	e.uint(1, uint64(s.Buffered))
	e.duration(2, s.Delay)
	e.duration(3, s.Jitter)
	e.duration(4, s.MinOffset)
	e.duration(5, s.MaxOffset)
	e.uint(6, s.Dropped)
}

func decodeFlowStats(b []byte) (s flowcontrol.FlowStats, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v uint32
			v, err = f.uint32()
			s.Buffered = int(v)
		case 2:
			s.Delay, err = f.duration()
		case 3:
			s.Jitter, err = f.duration()
		case 4:
			s.MinOffset, err = f.duration()
		case 5:
			s.MaxOffset, err = f.duration()
		case 6:
			s.Dropped, err = f.uint()
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodeStats(e *encoder, s arena.ConnectionStats) {
	e.duration(1, s.Latency)
	e.duration(2, s.ClockOffset)
	e.message(3, func(inner *encoder) { encodeFlowStats(inner, s.Flow) })
}

func decodeStats(b []byte) (s arena.ConnectionStats, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Latency, err = f.duration()
		case 2:
			s.ClockOffset, err = f.duration()
		case 3:
			s.Flow, err = decodeInto(f, decodeFlowStats)
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodePlayerInit(e *encoder, p arena.PlayerInit) {
	e.uint(1, uint64(p.PID))
	e.string(2, p.Nickname)
	e.bool(3, p.Admin)
	e.uint(4, uint64(p.Team))
	e.bool(5, p.LoadingEnv)
	if p.Stats != nil {
		e.message(6, func(inner *encoder) { encodeStats(inner, *p.Stats) })
	}
}

func decodePlayerInit(b []byte) (p arena.PlayerInit, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			p.PID, err = f.pid()
		case 2:
			p.Nickname, err = f.string()
		case 3:
			p.Admin, err = f.bool()
		case 4:
			p.Team, err = team(f)
		case 5:
			p.LoadingEnv, err = f.bool()
		case 6:
			p.Stats, err = decodeOptional(f, decodeStats)
		default:
			return f.unknown()
		}
		return err
	})
	return p, err
}

func encodePlayerDelta(e *encoder, d arena.PlayerDelta) {
	if d.Nickname != nil {
		e.putString(1, *d.Nickname)
	}
	e.bool(2, d.Admin)
	e.bool(3, d.LoadingEnv)
	if d.Team != nil {
		e.putUint(4, uint64(*d.Team))
	}
	if d.Stats != nil {
		e.message(5, func(inner *encoder) { encodeStats(inner, *d.Stats) })
	}
}

func decodePlayerDelta(b []byte) (d arena.PlayerDelta, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var nick string
			nick, err = f.string()
			d.Nickname = &nick
		case 2:
			d.Admin, err = f.bool()
		case 3:
			d.LoadingEnv, err = f.bool()
		case 4:
			var t arena.Team
			t, err = team(f)
			d.Team = &t
		case 5:
			d.Stats, err = decodeOptional(f, decodeStats)
		default:
			return f.unknown()
		}
		return err
	})
	return d, err
}

func encodeArenaInit(e *encoder, a arena.ArenaInit) {
	entries(e, 1, a.Players, func(inner *encoder, p arena.PlayerInit) {
		inner.message(2, func(m *encoder) { encodePlayerInit(m, p) })
	})
	e.string(2, a.Name)
	e.string(3, a.Motd)
	e.string(4, a.NextEnv)
	e.uint(5, uint64(a.Mode))
	e.duration(6, a.Uptime)
	e.uint(7, uint64(a.TeamCount))
}

func decodeArenaInit(b []byte) (a arena.ArenaInit, err error) {
	a.Players = make(map[networked.PID]arena.PlayerInit)
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			err = decodeMapEntry(f, &a.Players, decodePlayerInit)
		case 2:
			a.Name, err = f.string()
		case 3:
			a.Motd, err = f.string()
		case 4:
			a.NextEnv, err = f.string()
		case 5:
			a.Mode, err = mode(f)
		case 6:
			a.Uptime, err = f.duration()
		case 7:
			a.TeamCount, err = f.uint8()
		default:
			return f.unknown()
		}
		return err
	})
	return a, err
}

func encodeArenaDelta(e *encoder, d arena.ArenaDelta) {
	e.putUint(1, uint64(d.Kind))
	if d.Quit != nil {
		e.pid(2, *d.Quit)
	}
	if d.Join != nil {
		e.message(3, func(inner *encoder) { encodePlayerInit(inner, *d.Join) })
	}
	entries(e, 4, d.Players, func(inner *encoder, p arena.PlayerDelta) {
		inner.message(2, func(m *encoder) { encodePlayerDelta(m, p) })
	})
	if d.Motd != nil {
		e.putString(5, *d.Motd)
	}
	if d.Mode != nil {
		e.putUint(6, uint64(*d.Mode))
	}
	if d.Env != nil {
		e.putString(7, *d.Env)
	}
	if d.TeamCount != nil {
		e.putUint(8, uint64(*d.TeamCount))
	}
}

func decodeArenaDelta(b []byte) (d arena.ArenaDelta, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var kind uint8
			kind, err = f.uint8()
			d.Kind = arena.ArenaDeltaKind(kind)
			if err == nil && !d.Kind.Valid() {
				err = fmt.Errorf("%w: arena delta kind %d", ErrMalformed, kind)
			}
		case 2:
			var pid networked.PID
			pid, err = f.pid()
			d.Quit = &pid
		case 3:
			d.Join, err = decodeOptional(f, decodePlayerInit)
		case 4:
			err = decodeMapEntry(f, &d.Players, decodePlayerDelta)
		case 5:
			var motd string
			motd, err = f.string()
			d.Motd = &motd
		case 6:
			var m arena.Mode
			m, err = mode(f)
			d.Mode = &m
		case 7:
			var env string
			env, err = f.string()
			d.Env = &env
		case 8:
			var count uint8
			count, err = f.uint8()
			d.TeamCount = &count
		default:
			return f.unknown()
		}
		return err
	})
	if err == nil && d.Kind == arena.DeltaPlayers && d.Players == nil {
		d.Players = make(map[networked.PID]arena.PlayerDelta)
	}
	return d, err
}

func encodeScoreRow(e *encoder, row []int) {
	for _, v := range row {
		e.putSint(1, int64(v))
	}
}

func decodeScoreRow(b []byte) (row []int, err error) {
	row = []int{}
	err = eachField(b, func(f field) error {
		if f.num != 1 {
			return f.unknown()
		}
		v, err := f.sint()
		row = append(row, int(v))
		return err
	})
	return row, err
}

func encodeFields(e *encoder, fields []string) {
	for _, name := range fields {
		e.putString(1, name)
	}
}

func decodeFields(b []byte) (fields []string, err error) {
	fields = []string{}
	err = eachField(b, func(f field) error {
		if f.num != 1 {
			return f.unknown()
		}
		name, err := f.string()
		fields = append(fields, name)
		return err
	})
	return fields, err
}

func encodeScoreboardInit(e *encoder, s scoreboard.ScoreboardInit) {
	e.message(1, func(inner *encoder) { encodeFields(inner, s.Fields) })
	entries(e, 2, s.Records, func(inner *encoder, row []int) {
		inner.message(2, func(m *encoder) { encodeScoreRow(m, row) })
	})
}

func decodeScoreboardInit(b []byte) (s scoreboard.ScoreboardInit, err error) {
	s.Records = make(map[networked.PID][]int)
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Fields, err = decodeInto(f, decodeFields)
		case 2:
			err = decodeMapEntry(f, &s.Records, decodeScoreRow)
		default:
			return f.unknown()
		}
		return err
	})
	return s, err
}

func encodeScoreboardDelta(e *encoder, d scoreboard.ScoreboardDelta) {
	if d.Fields != nil {
		e.message(1, func(inner *encoder) { encodeFields(inner, *d.Fields) })
	}
	entries(e, 2, d.Records, func(inner *encoder, row []int) {
		inner.message(2, func(m *encoder) { encodeScoreRow(m, row) })
	})
}

func decodeScoreboardDelta(b []byte) (d scoreboard.ScoreboardDelta, err error) {
	err = eachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.Fields, err = decodeOptional(f, decodeFields)
		case 2:
			err = decodeMapEntry(f, &d.Records, decodeScoreRow)
		default:
			return f.unknown()
		}
		return err
	})
	return d, err
}
