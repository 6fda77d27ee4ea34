package physics

import "math"

// Vec2 is a screen-space vector; Y grows downward like the game's renderer.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (v Vec2) Add(o Vec2) Vec2           { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2           { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(f float64) Vec2      { return Vec2{X: v.X * f, Y: v.Y * f} }
func (v Vec2) Dot(o Vec2) float64        { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Length() float64           { return math.Hypot(v.X, v.Y) }
func (v Vec2) DistanceTo(o Vec2) float64 { return v.Sub(o).Length() }

// AngleDeg returns the heading of v in degrees.
func (v Vec2) AngleDeg() float64 {
	return math.Atan2(v.Y, v.X) * 180 / math.Pi
}

// FromAngle returns the unit vector pointing at angle degrees.
func FromAngle(deg float64) Vec2 {
	rad := deg * math.Pi / 180
	return Vec2{X: math.Cos(rad), Y: math.Sin(rad)}
}

// Approach moves value toward target by at most amount.
func Approach(value, target, amount float64) float64 {
	if value < target {
		return math.Min(value+amount, target)
	}
	return math.Max(value-amount, target)
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// Sign returns -1, 0 or 1.
func Sign(value float64) float64 {
	switch {
	case value > 0:
		return 1
	case value < 0:
		return -1
	default:
		return 0
	}
}

// Physical is the kinematic state shared between the simulation and the
// network: position, velocity, rotation in degrees and rotation velocity in
// degrees per second.
type Physical struct {
	Pos    Vec2    `json:"pos"`
	Vel    Vec2    `json:"vel"`
	Rot    float64 `json:"rot"`
	RotVel float64 `json:"rotVel"`
}

// Approx reports whether two physical states agree within eps on every axis.
func (p Physical) Approx(o Physical, eps float64) bool {
	return math.Abs(p.Pos.X-o.Pos.X) <= eps && math.Abs(p.Pos.Y-o.Pos.Y) <= eps &&
		math.Abs(p.Vel.X-o.Vel.X) <= eps && math.Abs(p.Vel.Y-o.Vel.Y) <= eps &&
		math.Abs(p.Rot-o.Rot) <= eps && math.Abs(p.RotVel-o.RotVel) <= eps
}
