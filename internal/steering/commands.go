package steering

import (
	"fmt"
	"math"
)

// steeringAngleFromTwist converts a desired body twist into the equivalent
// mid-axis steering angle. Zero in either component means straight ahead.
func (t *Tracker) steeringAngleFromTwist(vx, thetaDot float64) float64 {
	if thetaDot == 0 || vx == 0 {
		return 0
	}
	return math.Atan(thetaDot * t.params.Wheelbase / vx)
}

// Commands converts a body-frame command into per-wheel traction and
// steering targets for the configured drive layout.
//
// With fromTwist set, vx is the longitudinal velocity (m/s) and angular the
// yaw rate (rad/s); the mid-axis traction rate is derived through the last
// measured steering angle, and a zero-vx nonzero-angular command becomes a
// turn on the spot. Without fromTwist, angular is taken directly as the
// desired steering angle and the traction targets stay zero.
//
// Traction targets are wheel angular rates (rad/s). Slice order by layout:
//
//	bicycle            traction {w}, steering {a}
//	tricycle           traction {right, left}, steering {a}
//	ackermann          traction {right, left}, steering {right, left}
//	four_wheel_steering traction {lf, rf, lr, rr},
//	                   steering {fl, fr, rl, rr} with rear mirrored
func (t *Tracker) Commands(vx, angular float64, fromTwist bool) ([]float64, []float64, error) {
	// Desired wheel rate and steering angle at the middle of the axis.
	var ws, alpha float64

	if fromTwist {
		if vx == 0 && angular != 0 {
			// Turning on the spot.
			alpha = math.Pi / 2
			if angular < 0 {
				alpha = -math.Pi / 2
			}
			ws = math.Abs(angular) * t.params.Wheelbase / t.params.Radius
		} else {
			alpha = t.steeringAngleFromTwist(vx, angular)
			ws = vx / (t.params.Radius * math.Cos(t.steerPos))
		}
	} else {
		alpha = angular
	}

	switch t.layout {
	case Bicycle:
		return []float64{ws}, []float64{alpha}, nil

	case Tricycle:
		traction := []float64{ws, ws}
		if math.Abs(t.steerPos) >= straightEps {
			turningRadius := t.params.Wheelbase / math.Tan(t.steerPos)
			traction = []float64{
				ws * (turningRadius + t.params.Track*0.5) / turningRadius,
				ws * (turningRadius - t.params.Track*0.5) / turningRadius,
			}
		}
		return traction, []float64{alpha}, nil

	case Ackermann:
		if math.Abs(t.steerPos) < straightEps {
			return []float64{ws, ws}, []float64{alpha, alpha}, nil
		}

		turningRadius := t.params.Wheelbase / math.Tan(t.steerPos)
		traction := []float64{
			ws * (turningRadius + t.params.Track*0.5) / turningRadius,
			ws * (turningRadius - t.params.Track*0.5) / turningRadius,
		}

		// Per-side steering angles from the mid-axis angle.
		numerator := 2 * t.params.Wheelbase * math.Sin(alpha)
		denomFirst := 2 * t.params.Wheelbase * math.Cos(alpha)
		denomSecond := t.params.Track * math.Sin(alpha)

		steering := []float64{
			math.Atan2(numerator, denomFirst-denomSecond),
			math.Atan2(numerator, denomFirst+denomSecond),
		}
		return traction, steering, nil

	case FourWheelSteering:
		// The steering pivots sit inboard of the wheels by the offset.
		steeringTrack := t.params.Track - 2*t.params.SteeringOffset
		velOffset := (alpha * t.params.SteeringOffset) / t.params.Radius
		sign := math.Copysign(1, ws)

		left := sign*math.Hypot(ws-alpha*steeringTrack/2, t.params.Wheelbase*alpha/2)/t.params.Radius - velOffset
		right := sign*math.Hypot(ws+alpha*steeringTrack/2, t.params.Wheelbase*alpha/2)/t.params.Radius + velOffset
		traction := []float64{left, right, left, right}

		var frontLeft, frontRight float64
		switch {
		case math.Abs(2*ws) > math.Abs(alpha*steeringTrack):
			frontLeft = math.Atan(alpha * t.params.Wheelbase / (2*ws - alpha*steeringTrack))
			frontRight = math.Atan(alpha * t.params.Wheelbase / (2*ws + alpha*steeringTrack))
		case math.Abs(ws) > spinWheelEps:
			// Moving with no geometric solution: crab fully sideways.
			frontLeft = math.Copysign(math.Pi/2, alpha)
			frontRight = math.Copysign(math.Pi/2, alpha)
		}
		return traction, []float64{frontLeft, frontRight, -frontLeft, -frontRight}, nil
	}

	return nil, nil, fmt.Errorf("drive layout not implemented: %v", t.layout)
}
