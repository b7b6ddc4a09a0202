// Package steering estimates planar pose and body velocity for steered
// vehicles from wheel feedback, and converts body-frame velocity commands
// back into per-wheel traction and steering targets.
//
// The estimator supports four drive layouts (bicycle, tricycle, Ackermann,
// four-wheel steering) fed by cumulative wheel positions, wheel angular
// rates, or an open-loop command stream. Pose integration is exact-arc with
// a midpoint-rule fallback near zero curvature. Reported velocities are
// smoothed over a rolling window; integration always uses the instantaneous
// per-cycle values, never the smoothed ones.
package steering

import (
	"fmt"
	"math"
	"time"
)

const (
	// minEstimateInterval is the smallest cycle length in seconds the
	// velocity estimator accepts. Pose still integrates below it, but the
	// rolling means are left alone and the update reports failure.
	minEstimateInterval = 1e-4

	// straightEps bounds the angular magnitude below which exact arc
	// integration degenerates and the midpoint rule is used instead. The
	// same bound classifies a measured steering angle as straight when
	// generating commands.
	straightEps = 1e-6

	// spinWheelEps is the wheel-rate magnitude above which four-wheel
	// steering falls back to fully crabbed steering targets when the
	// geometric solution is undefined.
	spinWheelEps = 1e-3
)

// DriveLayout identifies the drivetrain and steering arrangement the
// tracker models. The zero value is unset; Commands rejects it.
type DriveLayout int

const (
	// Bicycle is one traction wheel and one steering axis.
	Bicycle DriveLayout = iota + 1
	// Tricycle is two traction wheels sharing one steering axis.
	Tricycle
	// Ackermann is two traction wheels and two linked steering wheels.
	Ackermann
	// FourWheelSteering is four traction wheels with steerable front and
	// rear axles.
	FourWheelSteering
)

// String returns the configuration-file spelling of the layout.
func (l DriveLayout) String() string {
	switch l {
	case Bicycle:
		return "bicycle"
	case Tricycle:
		return "tricycle"
	case Ackermann:
		return "ackermann"
	case FourWheelSteering:
		return "four_wheel_steering"
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

// ParseDriveLayout maps a configuration-file spelling to a DriveLayout.
func ParseDriveLayout(s string) (DriveLayout, error) {
	switch s {
	case "bicycle":
		return Bicycle, nil
	case "tricycle":
		return Tricycle, nil
	case "ackermann":
		return Ackermann, nil
	case "four_wheel_steering":
		return FourWheelSteering, nil
	}
	return 0, fmt.Errorf("unknown drive layout %q", s)
}

// WheelParams is the vehicle geometry every kinematic conversion uses.
// SteeringOffset is the lateral distance from the wheel contact point to
// its steering pivot; only the four-wheel-steering math consumes it.
type WheelParams struct {
	Radius         float64 // wheel radius (m)
	Wheelbase      float64 // front-to-rear axle distance (m)
	Track          float64 // left-to-right wheel distance (m)
	SteeringOffset float64 // steering pivot offset (m)
}

// Tracker accumulates planar odometry for a steered vehicle.
//
// Update methods advance the pose first and then refresh the smoothed
// velocity estimate; they report false when the cycle interval is too
// short for a velocity estimate (the pose still advances). The tracker
// performs no finite-value guarding of its own: boundary sanitation of
// sensor input and published estimates belongs to the caller.
type Tracker struct {
	timestamp time.Time

	// Pose in the odometry frame. Heading accumulates without wrapping.
	x       float64
	y       float64
	heading float64

	// Rolling-mean velocity estimates published to callers.
	linear  float64
	angular float64

	params WheelParams
	layout DriveLayout

	// Previous cumulative traction travel (m) for position-mode updates.
	tractionOldPos      float64
	tractionRightOldPos float64
	tractionLeftOldPos  float64

	// Last measured (or averaged) steering angle (rad).
	steerPos float64

	windowSize int
	linearAcc  *rollingMean
	angularAcc *rollingMean
}

// NewTracker returns a tracker smoothing velocity estimates over the given
// rolling window. Window sizes below one are raised to one.
func NewTracker(windowSize int) *Tracker {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Tracker{
		windowSize: windowSize,
		linearAcc:  newRollingMean(windowSize),
		angularAcc: newRollingMean(windowSize),
	}
}

// Init resets the velocity accumulators and records the starting timestamp.
func (t *Tracker) Init(ts time.Time) {
	t.resetAccumulators()
	t.timestamp = ts
}

// SetWheelParams installs the vehicle geometry.
func (t *Tracker) SetWheelParams(p WheelParams) { t.params = p }

// SetDriveLayout selects the drivetrain arrangement Commands assumes.
func (t *Tracker) SetDriveLayout(l DriveLayout) { t.layout = l }

// SetVelocityRollingWindowSize resizes both velocity accumulators,
// discarding any smoothing history. Sizes below one are raised to one.
func (t *Tracker) SetVelocityRollingWindowSize(n int) {
	if n < 1 {
		n = 1
	}
	t.windowSize = n
	t.resetAccumulators()
}

// Reset zeroes the integrated pose and discards the smoothing history.
// Geometry, layout, the last steering angle, and the stored wheel
// positions are kept.
func (t *Tracker) Reset() {
	t.x = 0
	t.y = 0
	t.heading = 0
	t.resetAccumulators()
}

func (t *Tracker) resetAccumulators() {
	t.linearAcc = newRollingMean(t.windowSize)
	t.angularAcc = newRollingMean(t.windowSize)
}

// X returns the integrated x position in meters.
func (t *Tracker) X() float64 { return t.x }

// Y returns the integrated y position in meters.
func (t *Tracker) Y() float64 { return t.y }

// Heading returns the accumulated heading in radians, unwrapped.
func (t *Tracker) Heading() float64 { return t.heading }

// LinearVelocity returns the smoothed linear velocity in m/s.
func (t *Tracker) LinearVelocity() float64 { return t.linear }

// AngularVelocity returns the smoothed angular velocity in rad/s.
func (t *Tracker) AngularVelocity() float64 { return t.angular }

// SteerPosition returns the steering angle recorded by the last update.
func (t *Tracker) SteerPosition() float64 { return t.steerPos }

// Timestamp returns the time recorded by the last Init.
func (t *Tracker) Timestamp() time.Time { return t.timestamp }

// DriveLayoutConfigured returns the layout set by SetDriveLayout.
func (t *Tracker) DriveLayoutConfigured() DriveLayout { return t.layout }

// UpdateFromPosition advances odometry from a single traction wheel's
// cumulative angle (rad) and the measured steering angle (rad).
func (t *Tracker) UpdateFromPosition(tractionPos, steerPos, dt float64) bool {
	cur := tractionPos * t.params.Radius
	diff := cur - t.tractionOldPos
	t.tractionOldPos = cur

	linear := diff / dt
	t.steerPos = steerPos
	angular := math.Tan(steerPos) * linear / t.params.Wheelbase

	return t.step(linear, angular, dt)
}

// UpdateFromPositionDual advances odometry from right and left traction
// wheel cumulative angles sharing one steering axis.
func (t *Tracker) UpdateFromPositionDual(rightPos, leftPos, steerPos, dt float64) bool {
	rightCur := rightPos * t.params.Radius
	leftCur := leftPos * t.params.Radius

	rightDiff := rightCur - t.tractionRightOldPos
	leftDiff := leftCur - t.tractionLeftOldPos

	t.tractionRightOldPos = rightCur
	t.tractionLeftOldPos = leftCur

	linear := (rightDiff + leftDiff) * 0.5 / dt
	t.steerPos = steerPos
	angular := math.Tan(t.steerPos) * linear / t.params.Wheelbase

	return t.step(linear, angular, dt)
}

// UpdateFromPositionDualSteer advances odometry from right and left
// traction wheel cumulative angles plus right and left steering angles,
// which are averaged into a single axis angle.
func (t *Tracker) UpdateFromPositionDualSteer(rightPos, leftPos, rightSteer, leftSteer, dt float64) bool {
	rightCur := rightPos * t.params.Radius
	leftCur := leftPos * t.params.Radius

	rightDiff := rightCur - t.tractionRightOldPos
	leftDiff := leftCur - t.tractionLeftOldPos

	t.tractionRightOldPos = rightCur
	t.tractionLeftOldPos = leftCur

	linear := (rightDiff + leftDiff) * 0.5 / dt
	t.steerPos = (rightSteer + leftSteer) * 0.5
	angular := math.Tan(t.steerPos) * linear / t.params.Wheelbase

	return t.step(linear, angular, dt)
}

// UpdateFromVelocity advances odometry from a single traction wheel's
// angular rate (rad/s) and the measured steering angle (rad).
func (t *Tracker) UpdateFromVelocity(tractionVel, steerPos, dt float64) bool {
	t.steerPos = steerPos
	linear := tractionVel * t.params.Radius
	angular := math.Tan(steerPos) * linear / t.params.Wheelbase

	return t.step(linear, angular, dt)
}

// UpdateFromVelocityDual advances odometry from right and left traction
// wheel rates sharing one steering axis.
func (t *Tracker) UpdateFromVelocityDual(rightVel, leftVel, steerPos, dt float64) bool {
	linear := (rightVel + leftVel) * t.params.Radius * 0.5
	t.steerPos = steerPos

	angular := math.Tan(t.steerPos) * linear / t.params.Wheelbase

	return t.step(linear, angular, dt)
}

// UpdateFromVelocityDualSteer advances odometry from right and left
// traction wheel rates plus right and left steering angles. The angular
// term scales with the averaged steering angle directly; that linear form
// holds for the small axle angles this shape reports.
func (t *Tracker) UpdateFromVelocityDualSteer(rightVel, leftVel, rightSteer, leftSteer, dt float64) bool {
	t.steerPos = (rightSteer + leftSteer) * 0.5
	linear := (rightVel + leftVel) * t.params.Radius * 0.5
	angular := t.steerPos * linear / t.params.Wheelbase

	return t.step(linear, angular, dt)
}

// UpdateFourSteering advances odometry from four wheel angular rates
// (rad/s) and the front and rear axle steering angles (rad).
func (t *Tracker) UpdateFourSteering(frSpeed, flSpeed, rrSpeed, rlSpeed, frontSteer, rearSteer, dt float64) bool {
	wb := t.params.Wheelbase
	track := t.params.Track
	offset := t.params.SteeringOffset

	frontTmp := math.Cos(frontSteer) * (math.Tan(frontSteer) - math.Tan(rearSteer)) / wb
	frontLeftTmp := frontTmp / math.Sqrt(1-track*frontTmp*math.Cos(frontSteer)+
		math.Pow(track*frontTmp/2, 2))
	frontRightTmp := frontTmp / math.Sqrt(1+track*frontTmp*math.Cos(frontSteer)+
		math.Pow(track*frontTmp/2, 2))

	flSpeedTmp := flSpeed * (1 / (1 - offset*frontLeftTmp))
	frSpeedTmp := frSpeed * (1 / (1 - offset*frontRightTmp))

	frontLinear := t.params.Radius * math.Copysign(1, flSpeedTmp+frSpeedTmp) *
		math.Sqrt((flSpeed*flSpeed+frSpeed*frSpeed)/(2+math.Pow(track*frontTmp, 2)/2))

	rearTmp := math.Cos(rearSteer) * (math.Tan(frontSteer) - math.Tan(rearSteer)) / wb
	rearLeftTmp := rearTmp / math.Sqrt(1-track*rearTmp*math.Cos(rearSteer)+
		math.Pow(track*rearTmp/2, 2))
	rearRightTmp := rearTmp / math.Sqrt(1+track*rearTmp*math.Cos(rearSteer)+
		math.Pow(track*rearTmp/2, 2))

	rlSpeedTmp := rlSpeed * (1 / (1 - offset*rearLeftTmp))
	rrSpeedTmp := rrSpeed * (1 / (1 - offset*rearRightTmp))

	rearLinear := t.params.Radius * math.Copysign(1, rlSpeedTmp+rrSpeedTmp) *
		math.Sqrt((rlSpeedTmp*rlSpeedTmp+rrSpeedTmp*rrSpeedTmp)/(2+math.Pow(track*rearTmp, 2)/2))

	t.angular = (frontLinear*frontTmp + rearLinear*rearTmp) / 2

	linearX := (frontLinear*math.Cos(frontSteer) + rearLinear*math.Cos(rearSteer)) / 2
	linearY := (frontLinear*math.Sin(frontSteer) - wb*t.angular/2 +
		rearLinear*math.Sin(rearSteer) + wb*t.angular/2) / 2

	linear := math.Copysign(1, rearLinear) * math.Hypot(linearX, linearY)

	return t.step(linear, t.angular, dt)
}

// UpdateOpenLoop advances odometry by trusting a commanded twist instead
// of wheel feedback. The published velocities become the command itself.
func (t *Tracker) UpdateOpenLoop(linear, angular, dt float64) {
	t.linear = linear
	t.angular = angular
	t.integrateExact(linear*dt, angular*dt)
}

// step integrates one cycle of motion and refreshes the velocity estimate.
// linear is the instantaneous body velocity (m/s) for this cycle; angular
// is the per-cycle angular term supplied by the caller. The pose integrates
// unconditionally; velocity estimation is skipped, and false returned, when
// dt is below minEstimateInterval.
func (t *Tracker) step(linear, angular, dt float64) bool {
	t.integrateExact(linear*dt, angular)

	if dt < minEstimateInterval {
		return false // interval too small to estimate speed over
	}

	t.linearAcc.Accumulate(linear)
	t.angularAcc.Accumulate(angular / dt)

	t.linear = t.linearAcc.Mean()
	t.angular = t.angularAcc.Mean()

	return true
}
