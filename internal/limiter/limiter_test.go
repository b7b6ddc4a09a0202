package limiter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew validates the construction rules around NaN bounds.
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("enabled stage without max fails", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{HasVelocityLimits: true, MaxVelocity: math.NaN()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_velocity")

		_, err = New(Config{HasAccelerationLimits: true, MaxAcceleration: math.NaN()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_acceleration")

		_, err = New(Config{HasJerkLimits: true, MaxJerk: math.NaN()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_jerk")
	})

	t.Run("nan min defaults to negated max", func(t *testing.T) {
		t.Parallel()
		l, err := New(Config{
			HasVelocityLimits: true,
			MinVelocity:       math.NaN(),
			MaxVelocity:       2.0,
		})
		require.NoError(t, err)

		v, _ := l.LimitVelocity(-5.0)
		assert.InDelta(t, -2.0, v, 1e-12)
	})

	t.Run("disabled stages ignore nan bounds", func(t *testing.T) {
		t.Parallel()
		l, err := New(Config{
			MaxVelocity:     math.NaN(),
			MaxAcceleration: math.NaN(),
			MaxJerk:         math.NaN(),
		})
		require.NoError(t, err)

		v, r := l.Limit(3.0, 0, 0, 0.1)
		assert.Equal(t, 3.0, v)
		assert.Equal(t, 1.0, r)
	})
}

// TestLimitVelocity pins the clamp and its diagnostic ratio.
func TestLimitVelocity(t *testing.T) {
	t.Parallel()

	l, err := New(Config{
		HasVelocityLimits: true,
		MinVelocity:       -1.0,
		MaxVelocity:       1.0,
	})
	require.NoError(t, err)

	v, r := l.LimitVelocity(5.0)
	assert.InDelta(t, 1.0, v, 1e-12)
	assert.InDelta(t, 0.2, r, 1e-12)

	v, r = l.LimitVelocity(-5.0)
	assert.InDelta(t, -1.0, v, 1e-12)
	assert.InDelta(t, 0.2, r, 1e-12)

	v, r = l.LimitVelocity(0.5)
	assert.Equal(t, 0.5, v)
	assert.Equal(t, 1.0, r)
}

// TestLimitAcceleration bounds the per-cycle velocity delta.
func TestLimitAcceleration(t *testing.T) {
	t.Parallel()

	l, err := New(Config{
		HasAccelerationLimits: true,
		MinAcceleration:       -1.0,
		MaxAcceleration:       1.0,
	})
	require.NoError(t, err)

	t.Run("caps speeding up", func(t *testing.T) {
		t.Parallel()
		v, _ := l.LimitAcceleration(1.0, 0.0, 0.1)
		assert.InDelta(t, 0.1, v, 1e-12)
	})

	t.Run("caps slowing down", func(t *testing.T) {
		t.Parallel()
		v, _ := l.LimitAcceleration(0.0, 1.0, 0.1)
		assert.InDelta(t, 0.9, v, 1e-12)
	})

	t.Run("asymmetric bounds", func(t *testing.T) {
		t.Parallel()
		hard, err := New(Config{
			HasAccelerationLimits: true,
			MinAcceleration:       -3.0,
			MaxAcceleration:       1.0,
		})
		require.NoError(t, err)

		v, _ := hard.LimitAcceleration(0.0, 1.0, 0.1)
		assert.InDelta(t, 0.7, v, 1e-12)
	})
}

// TestLimitJerk bounds the change of acceleration across three samples.
func TestLimitJerk(t *testing.T) {
	t.Parallel()

	l, err := New(Config{
		HasJerkLimits: true,
		MinJerk:       -1.0,
		MaxJerk:       1.0,
	})
	require.NoError(t, err)

	// dt2 = 2*0.1*0.1 = 0.02, so a step from rest is bounded to 0.02.
	v, _ := l.LimitJerk(1.0, 0.0, 0.0, 0.1)
	assert.InDelta(t, 0.02, v, 1e-12)

	// Steady acceleration passes unchanged: dv == dv0.
	v, r := l.LimitJerk(0.2, 0.1, 0.0, 0.1)
	assert.InDelta(t, 0.2, v, 1e-12)
	assert.InDelta(t, 1.0, r, 1e-12)
}

// TestLimitCascade verifies the fixed jerk, acceleration, velocity order
// and the combined ratio.
func TestLimitCascade(t *testing.T) {
	t.Parallel()

	l, err := New(Config{
		HasVelocityLimits:     true,
		HasAccelerationLimits: true,
		HasJerkLimits:         true,
		MinVelocity:           -0.5,
		MaxVelocity:           0.5,
		MinAcceleration:       -1.0,
		MaxAcceleration:       1.0,
		MinJerk:               -5.0,
		MaxJerk:               5.0,
	})
	require.NoError(t, err)

	// From rest, the jerk stage bounds the step to 5*0.02 = 0.1 before the
	// acceleration and velocity stages see it.
	v, r := l.Limit(2.0, 0.0, 0.0, 0.1)
	assert.InDelta(t, 0.1, v, 1e-12)
	assert.InDelta(t, 0.05, r, 1e-12)

	// Zero request reports a unit ratio.
	v, r = l.Limit(0.0, 0.0, 0.0, 0.1)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 1.0, r)
}

// TestLimiter32 mirrors the double-precision behavior in float32.
func TestLimiter32(t *testing.T) {
	t.Parallel()

	l, err := New32(Config{
		HasVelocityLimits:     true,
		HasAccelerationLimits: true,
		HasJerkLimits:         true,
		MinVelocity:           -1.0,
		MaxVelocity:           1.0,
		MinAcceleration:       -1.0,
		MaxAcceleration:       1.0,
		MinJerk:               -1.0,
		MaxJerk:               1.0,
	})
	require.NoError(t, err)

	v, r := l.LimitVelocity(5.0)
	assert.InDelta(t, 1.0, float64(v), 1e-6)
	assert.InDelta(t, 0.2, float64(r), 1e-6)

	v, _ = l.LimitAcceleration(1.0, 0.0, 0.1)
	assert.InDelta(t, 0.1, float64(v), 1e-6)

	v, _ = l.LimitJerk(1.0, 0.0, 0.0, 0.1)
	assert.InDelta(t, 0.02, float64(v), 1e-6)

	_, err = New32(Config{HasJerkLimits: true, MaxJerk: math.NaN()})
	require.Error(t, err)
}
