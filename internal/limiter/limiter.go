// Package limiter bounds commanded velocities by jerk, acceleration, and
// velocity limits before they reach actuators.
//
// A limiter is stateless across calls: the caller supplies the previous
// command (v0) and the one before it (v1), and owns that history. Every
// stage returns the ratio of bounded to requested velocity for
// diagnostics, defined as 1.0 when the request was exactly zero. Both
// float64 and float32 limiters exist with identical logic; the narrow
// variant exists for wire formats that carry single-precision velocities.
package limiter

import (
	"errors"
	"math"
)

// Config describes the three clamp stages. Unset bounds are represented
// as NaN: an enabled stage with a NaN max fails construction, and a NaN
// min silently defaults to the negated max.
type Config struct {
	HasVelocityLimits     bool
	HasAccelerationLimits bool
	HasJerkLimits         bool

	MinVelocity     float64
	MaxVelocity     float64
	MinAcceleration float64
	MaxAcceleration float64
	MinJerk         float64
	MaxJerk         float64
}

var (
	errNoMaxVelocity     = errors.New("cannot apply velocity limits if max_velocity is not specified")
	errNoMaxAcceleration = errors.New("cannot apply acceleration limits if max_acceleration is not specified")
	errNoMaxJerk         = errors.New("cannot apply jerk limits if max_jerk is not specified")
)

// validate fills derived minimums and rejects enabled stages without a
// maximum. It returns the normalized config.
func (c Config) validate() (Config, error) {
	if c.HasVelocityLimits {
		if math.IsNaN(c.MaxVelocity) {
			return c, errNoMaxVelocity
		}
		if math.IsNaN(c.MinVelocity) {
			c.MinVelocity = -c.MaxVelocity
		}
	}
	if c.HasAccelerationLimits {
		if math.IsNaN(c.MaxAcceleration) {
			return c, errNoMaxAcceleration
		}
		if math.IsNaN(c.MinAcceleration) {
			c.MinAcceleration = -c.MaxAcceleration
		}
	}
	if c.HasJerkLimits {
		if math.IsNaN(c.MaxJerk) {
			return c, errNoMaxJerk
		}
		if math.IsNaN(c.MinJerk) {
			c.MinJerk = -c.MaxJerk
		}
	}
	return c, nil
}

func clamp[T ~float32 | ~float64](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

func ratio[T ~float32 | ~float64](bounded, requested T) T {
	if requested != 0 {
		return bounded / requested
	}
	return 1.0
}

// Limiter bounds a float64 command stream.
type Limiter struct {
	cfg Config
}

// New returns a Limiter for cfg, or a configuration error when an enabled
// stage has no maximum.
func New(cfg Config) (*Limiter, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &Limiter{cfg: cfg}, nil
}

// Limit applies the jerk, acceleration, and velocity stages in that fixed
// order. v0 is the previous command, v1 the one before it, dt the control
// period in seconds. It returns the bounded velocity and the overall
// bounded/requested ratio.
func (l *Limiter) Limit(v, v0, v1, dt float64) (float64, float64) {
	in := v
	v, _ = l.LimitJerk(v, v0, v1, dt)
	v, _ = l.LimitAcceleration(v, v0, dt)
	v, _ = l.LimitVelocity(v)
	return v, ratio(v, in)
}

// LimitVelocity clamps v into the configured velocity interval.
func (l *Limiter) LimitVelocity(v float64) (float64, float64) {
	in := v
	if l.cfg.HasVelocityLimits {
		v = clamp(v, l.cfg.MinVelocity, l.cfg.MaxVelocity)
	}
	return v, ratio(v, in)
}

// LimitAcceleration bounds the change from v0 to v over dt.
func (l *Limiter) LimitAcceleration(v, v0, dt float64) (float64, float64) {
	in := v
	if l.cfg.HasAccelerationLimits {
		dvMin := l.cfg.MinAcceleration * dt
		dvMax := l.cfg.MaxAcceleration * dt

		dv := clamp(v-v0, dvMin, dvMax)
		v = v0 + dv
	}
	return v, ratio(v, in)
}

// LimitJerk bounds the change of acceleration implied by the last three
// commands (v, v0, v1) over dt.
func (l *Limiter) LimitJerk(v, v0, v1, dt float64) (float64, float64) {
	in := v
	if l.cfg.HasJerkLimits {
		dv := v - v0
		dv0 := v0 - v1

		dt2 := 2 * dt * dt

		daMin := l.cfg.MinJerk * dt2
		daMax := l.cfg.MaxJerk * dt2

		da := clamp(dv-dv0, daMin, daMax)
		v = v0 + dv0 + da
	}
	return v, ratio(v, in)
}

// Limiter32 bounds a float32 command stream with the same cascade.
type Limiter32 struct {
	hasVelocity     bool
	hasAcceleration bool
	hasJerk         bool

	minVelocity     float32
	maxVelocity     float32
	minAcceleration float32
	maxAcceleration float32
	minJerk         float32
	maxJerk         float32
}

// New32 returns a Limiter32 for cfg. Validation happens in float64 before
// the bounds narrow to float32.
func New32(cfg Config) (*Limiter32, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &Limiter32{
		hasVelocity:     cfg.HasVelocityLimits,
		hasAcceleration: cfg.HasAccelerationLimits,
		hasJerk:         cfg.HasJerkLimits,
		minVelocity:     float32(cfg.MinVelocity),
		maxVelocity:     float32(cfg.MaxVelocity),
		minAcceleration: float32(cfg.MinAcceleration),
		maxAcceleration: float32(cfg.MaxAcceleration),
		minJerk:         float32(cfg.MinJerk),
		maxJerk:         float32(cfg.MaxJerk),
	}, nil
}

// Limit applies the jerk, acceleration, and velocity stages in that fixed
// order, mirroring Limiter.Limit in single precision.
func (l *Limiter32) Limit(v, v0, v1, dt float32) (float32, float32) {
	in := v
	v, _ = l.LimitJerk(v, v0, v1, dt)
	v, _ = l.LimitAcceleration(v, v0, dt)
	v, _ = l.LimitVelocity(v)
	return v, ratio(v, in)
}

// LimitVelocity clamps v into the configured velocity interval.
func (l *Limiter32) LimitVelocity(v float32) (float32, float32) {
	in := v
	if l.hasVelocity {
		v = clamp(v, l.minVelocity, l.maxVelocity)
	}
	return v, ratio(v, in)
}

// LimitAcceleration bounds the change from v0 to v over dt.
func (l *Limiter32) LimitAcceleration(v, v0, dt float32) (float32, float32) {
	in := v
	if l.hasAcceleration {
		dvMin := l.minAcceleration * dt
		dvMax := l.maxAcceleration * dt

		dv := clamp(v-v0, dvMin, dvMax)
		v = v0 + dv
	}
	return v, ratio(v, in)
}

// LimitJerk bounds the change of acceleration implied by the last three
// commands over dt.
func (l *Limiter32) LimitJerk(v, v0, v1, dt float32) (float32, float32) {
	in := v
	if l.hasJerk {
		dv := v - v0
		dv0 := v0 - v1

		dt2 := 2 * dt * dt

		daMin := l.minJerk * dt2
		daMax := l.maxJerk * dt2

		da := clamp(dv-dv0, daMin, daMax)
		v = v0 + dv0 + da
	}
	return v, ratio(v, in)
}
