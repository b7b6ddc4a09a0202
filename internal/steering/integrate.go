package steering

import "math"

// integrateRungeKutta2 advances the pose by the midpoint (second order
// Runge-Kutta) rule. linear and angular are per-cycle displacements.
func (t *Tracker) integrateRungeKutta2(linear, angular float64) {
	direction := t.heading + angular*0.5

	t.x += linear * math.Cos(direction)
	t.y += linear * math.Sin(direction)
	t.heading += angular
}

// integrateExact advances the pose along the exact circular arc described
// by the displacement pair. The arc radius degenerates as the angular
// displacement approaches zero, so near-straight cycles fall back to the
// midpoint rule.
func (t *Tracker) integrateExact(linear, angular float64) {
	if math.Abs(angular) < straightEps {
		t.integrateRungeKutta2(linear, angular)
		return
	}

	headingOld := t.heading
	r := linear / angular
	t.heading += angular
	t.x += r * (math.Sin(t.heading) - math.Sin(headingOld))
	t.y += -r * (math.Cos(t.heading) - math.Cos(headingOld))
}
