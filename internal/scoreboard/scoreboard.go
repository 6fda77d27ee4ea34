// Package scoreboard keeps a row of integer scores per player. Column names
// are configured at runtime and replicated alongside the values.
package scoreboard

import (
	"slices"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
)

// Standard column names understood by the built-in game rules.
const (
	FieldKills   = "kills"
	FieldDeaths  = "deaths"
	FieldAssists = "assists"
)

// DefaultFields is the column layout used when none is configured.
func DefaultFields() []string {
	return []string{FieldKills, FieldDeaths, FieldAssists}
}

// ScoreRecord is one player's row. Reads and writes outside the row are
// ignored so records survive a column change.
type ScoreRecord struct {
	values     []int
	lastValues []int
}

func newScoreRecord(init []int, width int) *ScoreRecord {
	values := make([]int, width)
	copy(values, init)
	return &ScoreRecord{values: values, lastValues: slices.Clone(values)}
}

// Value returns the score at column i, or zero.
func (r *ScoreRecord) Value(i int) int {
	if i < 0 || i >= len(r.values) {
		return 0
	}
	return r.values[i]
}

// SetValue sets column i.
func (r *ScoreRecord) SetValue(i, v int) {
	if i < 0 || i >= len(r.values) {
		return
	}
	r.values[i] = v
}

// Add adds d to column i.
func (r *ScoreRecord) Add(i, d int) { r.SetValue(i, r.Value(i)+d) }

// Values returns a copy of the row.
func (r *ScoreRecord) Values() []int { return slices.Clone(r.values) }

func (r *ScoreRecord) CaptureInitializer() []int { return slices.Clone(r.values) }

func (r *ScoreRecord) ApplyDelta(delta []int) {
	r.values = slices.Clone(delta)
}

// CollectDelta returns the whole row when any value changed.
func (r *ScoreRecord) CollectDelta() ([]int, bool) {
	if slices.Equal(r.values, r.lastValues) {
		return nil, false
	}
	r.lastValues = slices.Clone(r.values)
	return slices.Clone(r.values), true
}

func (r *ScoreRecord) resize(width int) {
	values := make([]int, width)
	copy(values, r.values)
	r.values = values
}

// ScoreboardInit describes a scoreboard in full.
type ScoreboardInit struct {
	Fields  []string                `json:"fields"`
	Records map[networked.PID][]int `json:"records"`
}

// VerifyStructure rejects rows wider than the column list.
func (i ScoreboardInit) VerifyStructure() bool {
	for _, row := range i.Records {
		if len(row) > len(i.Fields) {
			return false
		}
	}
	return true
}

// ScoreboardDelta carries changed rows and, when the layout changed, the new
// column names.
type ScoreboardDelta struct {
	Fields  *[]string               `json:"fields,omitempty"`
	Records map[networked.PID][]int `json:"records,omitempty"`
}

func (d ScoreboardDelta) VerifyStructure() bool { return true }

// Scoreboard is the arena subsystem holding every player's ScoreRecord.
type Scoreboard struct {
	arena.Subsystem[ScoreRecord]
	arena.BaseListener

	log        *logging.Logger
	fields     []string
	lastFields []string
	records    map[networked.PID]*ScoreRecord
	pending    map[networked.PID][]int
}

// Option configures a Scoreboard.
type Option func(*Scoreboard)

// WithLogger routes scoreboard logs to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scoreboard) {
		if logger != nil {
			s.log = logger
		}
	}
}

// New attaches a scoreboard to a. Players already in the arena get the row
// from init, or a zeroed one.
func New(a *arena.Arena, init ScoreboardInit, opts ...Option) *Scoreboard {
	s := &Scoreboard{
		log:        logging.L(),
		fields:     slices.Clone(init.Fields),
		lastFields: slices.Clone(init.Fields),
		records:    make(map[networked.PID]*ScoreRecord),
		pending:    init.Records,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named(logging.OriginEngine, "scoreboard")
	s.Attach(a, s)
	s.pending = nil
	return s
}

// Fields returns the column names.
func (s *Scoreboard) Fields() []string { return slices.Clone(s.fields) }

// FieldIndex returns the column of name, or -1.
func (s *Scoreboard) FieldIndex(name string) int { return slices.Index(s.fields, name) }

// Record returns p's row, or nil.
func (s *Scoreboard) Record(p *arena.Player) *ScoreRecord { return s.PlayerData(p) }

// Add adds d to p's column named field. Unknown columns are ignored.
func (s *Scoreboard) Add(p *arena.Player, field string, d int) {
	record := s.PlayerData(p)
	idx := s.FieldIndex(field)
	if record == nil || idx < 0 {
		return
	}
	record.Add(idx, d)
}

// SetFields replaces the column layout. Rows keep the values of columns that
// still exist at the same position.
func (s *Scoreboard) SetFields(fields []string) {
	s.fields = slices.Clone(fields)
	for _, record := range s.records {
		record.resize(len(s.fields))
	}
}

func (s *Scoreboard) RegisterPlayer(p *arena.Player) {
	record := newScoreRecord(s.pending[p.PID()], len(s.fields))
	s.records[p.PID()] = record
	s.SetPlayerData(p, record)
}

func (s *Scoreboard) UnregisterPlayer(p *arena.Player) {
	delete(s.records, p.PID())
	s.ClearPlayerData(p)
}

// OnKill counts a death for p.
func (s *Scoreboard) OnKill(p *arena.Player) {
	s.Add(p, FieldDeaths, 1)
}

func (s *Scoreboard) CaptureInitializer() ScoreboardInit {
	init := ScoreboardInit{
		Fields:  slices.Clone(s.fields),
		Records: make(map[networked.PID][]int, len(s.records)),
	}
	for pid, record := range s.records {
		init.Records[pid] = record.CaptureInitializer()
	}
	return init
}

// ApplyDelta mirrors a collected delta. Rows of players that are not in the
// arena are ignored.
func (s *Scoreboard) ApplyDelta(delta ScoreboardDelta) {
	if delta.Fields != nil {
		s.SetFields(*delta.Fields)
	}
	for pid, row := range delta.Records {
		if record := s.records[pid]; record != nil {
			record.ApplyDelta(row)
		}
	}
}

func (s *Scoreboard) CollectDelta() (ScoreboardDelta, bool) {
	var delta ScoreboardDelta
	useful := false
	if !slices.Equal(s.fields, s.lastFields) {
		fields := slices.Clone(s.fields)
		delta.Fields = &fields
		s.lastFields = slices.Clone(s.fields)
		useful = true
	}
	for pid, record := range s.records {
		if row, ok := record.CollectDelta(); ok {
			if delta.Records == nil {
				delta.Records = make(map[networked.PID][]int)
			}
			delta.Records[pid] = row
			useful = true
		}
	}
	return delta, useful
}
