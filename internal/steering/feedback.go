package steering

import (
	"errors"
	"fmt"
)

// FeedbackShape identifies which wheel-sensor combination produced a
// Feedback sample.
type FeedbackShape int

const (
	// SingleTractionSteer is one traction wheel and one steering axis.
	SingleTractionSteer FeedbackShape = iota + 1
	// DualTractionSteer is right/left traction wheels sharing one steering
	// axis.
	DualTractionSteer
	// DualTractionDualSteer is right/left traction wheels and right/left
	// steering wheels.
	DualTractionDualSteer
	// FourIndependent is four traction wheels with front and rear axle
	// steering angles.
	FourIndependent
)

// String returns a short name for the shape.
func (s FeedbackShape) String() string {
	switch s {
	case SingleTractionSteer:
		return "single"
	case DualTractionSteer:
		return "dual"
	case DualTractionDualSteer:
		return "dual_steer"
	case FourIndependent:
		return "four"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Feedback is one control cycle of wheel sensor readings in one of the
// supported shapes. Traction readings are wheel angular rates (rad/s), or
// cumulative wheel angles (rad) when Positions is set; FourIndependent
// always carries rates. Slot use by shape:
//
//	SingleTractionSteer    Traction[0], Steer[0]
//	DualTractionSteer      Traction[0,1] right,left; Steer[0]
//	DualTractionDualSteer  Traction[0,1] right,left; Steer[0,1] right,left
//	FourIndependent        Traction[0..3] fr,fl,rr,rl; Steer[0,1] front,rear
type Feedback struct {
	Shape     FeedbackShape
	Traction  [4]float64
	Steer     [2]float64
	Positions bool
}

// Update dispatches one cycle of wheel feedback to the kinematics matching
// its shape. It reports false when dt was too short for a fresh velocity
// estimate, and errors on an unknown shape or on position readings for the
// four-wheel shape, whose sensors only report rates.
func (t *Tracker) Update(fb Feedback, dt float64) (bool, error) {
	switch fb.Shape {
	case SingleTractionSteer:
		if fb.Positions {
			return t.UpdateFromPosition(fb.Traction[0], fb.Steer[0], dt), nil
		}
		return t.UpdateFromVelocity(fb.Traction[0], fb.Steer[0], dt), nil

	case DualTractionSteer:
		if fb.Positions {
			return t.UpdateFromPositionDual(fb.Traction[0], fb.Traction[1], fb.Steer[0], dt), nil
		}
		return t.UpdateFromVelocityDual(fb.Traction[0], fb.Traction[1], fb.Steer[0], dt), nil

	case DualTractionDualSteer:
		if fb.Positions {
			return t.UpdateFromPositionDualSteer(fb.Traction[0], fb.Traction[1], fb.Steer[0], fb.Steer[1], dt), nil
		}
		return t.UpdateFromVelocityDualSteer(fb.Traction[0], fb.Traction[1], fb.Steer[0], fb.Steer[1], dt), nil

	case FourIndependent:
		if fb.Positions {
			return false, errors.New("four-wheel feedback carries rates, not positions")
		}
		return t.UpdateFourSteering(
			fb.Traction[0], fb.Traction[1], fb.Traction[2], fb.Traction[3],
			fb.Steer[0], fb.Steer[1], dt), nil
	}

	return false, fmt.Errorf("unknown feedback shape: %v", fb.Shape)
}
