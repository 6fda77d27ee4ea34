package plane

import (
	"sort"

	"solemnsky/server/internal/physics"
)

// Tuning holds the constants of the flight model for one plane.
type Tuning struct {
	Hitbox        physics.Vec2 `json:"hitbox" yaml:"hitbox"`
	MaxHealth     float64      `json:"maxHealth" yaml:"maxHealth"`
	ThrottleSpeed float64      `json:"throttleSpeed" yaml:"throttleSpeed"`

	Energy EnergyTuning `json:"energy" yaml:"energy"`
	Stall  StallTuning  `json:"stall" yaml:"stall"`
	Flight FlightTuning `json:"flight" yaml:"flight"`
}

// EnergyTuning governs energy drain and recharge.
type EnergyTuning struct {
	ThrustDrain     float64 `json:"thrustDrain" yaml:"thrustDrain"`
	Recharge        float64 `json:"recharge" yaml:"recharge"`
	LaserGun        float64 `json:"laserGun" yaml:"laserGun"`
	PrimaryRecharge float64 `json:"primaryRecharge" yaml:"primaryRecharge"`
}

// StallTuning applies while the plane is stalled.
type StallTuning struct {
	MaxRotVel float64 `json:"maxRotVel" yaml:"maxRotVel"` // deg / s
	MaxVel    float64 `json:"maxVel" yaml:"maxVel"`       // px / s
	Thrust    float64 `json:"thrust" yaml:"thrust"`       // px / s^2
	Damping   float64 `json:"damping" yaml:"damping"`
	// Threshold is the forward speed needed to leave the stall.
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// FlightTuning applies while the plane is flying.
type FlightTuning struct {
	MaxRotVel           float64 `json:"maxRotVel" yaml:"maxRotVel"`
	AirspeedFactor      float64 `json:"airspeedFactor" yaml:"airspeedFactor"`
	ThrottleInfluence   float64 `json:"throttleInfluence" yaml:"throttleInfluence"`
	ThrottleEffect      float64 `json:"throttleEffect" yaml:"throttleEffect"`
	ThrottleBrakeEffect float64 `json:"throttleBrakeEffect" yaml:"throttleBrakeEffect"`
	ThrottleGlideDamper float64 `json:"throttleGlideDamper" yaml:"throttleGlideDamper"`
	GravityEffect       float64 `json:"gravityEffect" yaml:"gravityEffect"`
	AfterburnDrive      float64 `json:"afterburnDrive" yaml:"afterburnDrive"`
	LeftoverDamping     float64 `json:"leftoverDamping" yaml:"leftoverDamping"`
	// Threshold is the forward speed below which the plane stalls.
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultTuning returns the stock plane.
func DefaultTuning() Tuning {
	return Tuning{
		Hitbox:        physics.Vec2{X: 110, Y: 60},
		MaxHealth:     10,
		ThrottleSpeed: 1.5,
		Energy: EnergyTuning{
			ThrustDrain:     1,
			Recharge:        0.5,
			LaserGun:        0.3,
			PrimaryRecharge: 4,
		},
		Stall: StallTuning{
			MaxRotVel: 200,
			MaxVel:    300,
			Thrust:    500,
			Damping:   0.8,
			Threshold: 130,
		},
		Flight: FlightTuning{
			MaxRotVel:           180,
			AirspeedFactor:      330,
			ThrottleInfluence:   0.6,
			ThrottleEffect:      0.3,
			ThrottleBrakeEffect: 0.3,
			ThrottleGlideDamper: 0.8,
			GravityEffect:       0.6,
			AfterburnDrive:      0.9,
			LeftoverDamping:     0.3,
			Threshold:           110,
		},
	}
}

var paramNames = []string{
	"hitbox.x", "hitbox.y", "maxHealth", "throttleSpeed",
	"energy.thrustDrain", "energy.recharge", "energy.laserGun", "energy.primaryRecharge",
	"stall.maxRotVel", "stall.maxVel", "stall.thrust", "stall.damping", "stall.threshold",
	"flight.maxRotVel", "flight.airspeedFactor", "flight.throttleInfluence", "flight.throttleEffect",
	"flight.throttleBrakeEffect", "flight.throttleGlideDamper", "flight.gravityEffect",
	"flight.afterburnDrive", "flight.leftoverDamping", "flight.threshold",
}

// ParamNames lists every name Param accepts, in a fixed order.
func ParamNames() []string {
	return append([]string(nil), paramNames...)
}

// Param addresses a tunable by its dotted name, e.g. "flight.gravityEffect".
// It returns nil for unknown names.
func (t *Tuning) Param(name string) *float64 {
	switch name {
	case "hitbox.x":
		return &t.Hitbox.X
	case "hitbox.y":
		return &t.Hitbox.Y
	case "maxHealth":
		return &t.MaxHealth
	case "throttleSpeed":
		return &t.ThrottleSpeed
	case "energy.thrustDrain":
		return &t.Energy.ThrustDrain
	case "energy.recharge":
		return &t.Energy.Recharge
	case "energy.laserGun":
		return &t.Energy.LaserGun
	case "energy.primaryRecharge":
		return &t.Energy.PrimaryRecharge
	case "stall.maxRotVel":
		return &t.Stall.MaxRotVel
	case "stall.maxVel":
		return &t.Stall.MaxVel
	case "stall.thrust":
		return &t.Stall.Thrust
	case "stall.damping":
		return &t.Stall.Damping
	case "stall.threshold":
		return &t.Stall.Threshold
	case "flight.maxRotVel":
		return &t.Flight.MaxRotVel
	case "flight.airspeedFactor":
		return &t.Flight.AirspeedFactor
	case "flight.throttleInfluence":
		return &t.Flight.ThrottleInfluence
	case "flight.throttleEffect":
		return &t.Flight.ThrottleEffect
	case "flight.throttleBrakeEffect":
		return &t.Flight.ThrottleBrakeEffect
	case "flight.throttleGlideDamper":
		return &t.Flight.ThrottleGlideDamper
	case "flight.gravityEffect":
		return &t.Flight.GravityEffect
	case "flight.afterburnDrive":
		return &t.Flight.AfterburnDrive
	case "flight.leftoverDamping":
		return &t.Flight.LeftoverDamping
	case "flight.threshold":
		return &t.Flight.Threshold
	}
	return nil
}

// ApplyOverrides sets every named parameter and returns the names that did
// not match a tunable, sorted.
func (t *Tuning) ApplyOverrides(overrides map[string]float64) []string {
	var unknown []string
	for name, value := range overrides {
		if param := t.Param(name); param != nil {
			*param = value
		} else {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}
