package physics

import (
	"math"
	"testing"
)

func TestIntegrateUpdatesLinearAndAngular(t *testing.T) {
	//1.- Construct a body with both velocity channels populated and no gravity.
	state := &Physical{
		Pos:    Vec2{X: 1, Y: 2},
		Vel:    Vec2{X: 4, Y: -2},
		Rot:    170,
		RotVel: 30,
	}
	//2.- Advance by half a second and verify the wrap across 180 degrees.
	Integrate(state, 0, 0.5)
	if math.Abs(state.Pos.X-3) > 1e-9 || math.Abs(state.Pos.Y-1) > 1e-9 {
		t.Fatalf("unexpected position %+v", state.Pos)
	}
	if math.Abs(state.Rot+175) > 1e-9 {
		t.Fatalf("unexpected rotation %.2f", state.Rot)
	}
}

func TestIntegrateHandlesInvalidInput(t *testing.T) {
	Integrate(nil, DefaultGravity, 0.5)
	state := &Physical{Pos: Vec2{X: 5}}
	Integrate(state, DefaultGravity, -1)
	if state.Pos.X != 5 || state.Vel.Y != 0 {
		t.Fatalf("negative step must not mutate state: %+v", state)
	}
}

func TestClampVec2Magnitude(t *testing.T) {
	v := Vec2{X: 30, Y: 40}
	clampVec2Magnitude(&v, 10)
	if math.Abs(v.Length()-10) > 1e-9 || math.Abs(v.X-6) > 1e-9 {
		t.Fatalf("unexpected clamp result %+v", v)
	}
}

func TestWorldTickAppliesGravityToDynamicBodies(t *testing.T) {
	world := NewWorld(Vec2{X: 1000, Y: 1000}, 100)
	falling := world.RectBody(Vec2{X: 10, Y: 10}, false)
	floating := world.RectBody(Vec2{X: 10, Y: 10}, false)
	floating.GravityScale = 0
	ground := world.RectBody(Vec2{X: 10, Y: 10}, true)

	world.Tick(1)
	if falling.Vel.Y != 100 || falling.Pos.Y != 100 {
		t.Fatalf("gravity not applied: %+v", falling.Physical)
	}
	if floating.Vel.Y != 0 {
		t.Fatalf("gravity scale ignored: %+v", floating.Physical)
	}
	if ground.Pos.Y != 0 {
		t.Fatalf("static body moved")
	}

	world.Remove(falling)
	world.Remove(falling)
	if world.Len() != 2 {
		t.Fatalf("expected two bodies after removal, got %d", world.Len())
	}
}

func TestApproachAndAngles(t *testing.T) {
	if Approach(0, 1, 0.25) != 0.25 || Approach(1, 0, 2) != 0 {
		t.Fatalf("approach overshoots")
	}
	if math.Abs(FromAngle(90).Y-1) > 1e-9 || math.Abs(Vec2{X: 0, Y: 1}.AngleDeg()-90) > 1e-9 {
		t.Fatalf("angle helpers disagree")
	}
}
