package units

import "math"

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// WheelLinearSpeed converts a wheel angular rate (rad/s) to ground speed
// (m/s) for the given wheel radius.
func WheelLinearSpeed(angularRate, radius float64) float64 {
	return angularRate * radius
}

// WheelAngularSpeed converts a ground speed (m/s) to the wheel angular
// rate (rad/s) for the given wheel radius. A zero radius returns zero
// rather than infinity.
func WheelAngularSpeed(linear, radius float64) float64 {
	if radius == 0 {
		return 0
	}
	return linear / radius
}
