package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/limiter"
	"github.com/banshee-data/odometry.report/internal/steering"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestLoadDefaultsFile loads the shipped defaults and spot-checks values.
func TestLoadDefaultsFile(t *testing.T) {
	t.Parallel()

	cfg := MustLoadDefaultConfig()

	assert.InDelta(t, 0.1, cfg.GetWheelRadius(), 1e-12)
	assert.InDelta(t, 1.2, cfg.GetWheelbase(), 1e-12)
	assert.InDelta(t, 0.8, cfg.GetWheelTrack(), 1e-12)
	assert.Equal(t, steering.FourWheelSteering, cfg.GetDriveLayout())
	assert.Equal(t, 10, cfg.GetVelocityRollingWindowSize())
	assert.Equal(t, 20*time.Millisecond, cfg.GetCycleInterval())
	assert.False(t, cfg.GetPositionFeedback())
	assert.False(t, cfg.GetOpenLoop())
}

// TestLoadTuningConfig covers file validation and partial configs.
func TestLoadTuningConfig(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-json extension", func(t *testing.T) {
		t.Parallel()
		_, err := LoadTuningConfig("tuning.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json")
	})

	t.Run("rejects missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		t.Parallel()
		path := writeTempConfig(t, "{not json")
		_, err := LoadTuningConfig(path)
		require.Error(t, err)
	})

	t.Run("partial config keeps defaults elsewhere", func(t *testing.T) {
		t.Parallel()
		path := writeTempConfig(t, `{"wheel_radius": 0.15, "drive_layout": "ackermann"}`)
		cfg, err := LoadTuningConfig(path)
		require.NoError(t, err)

		assert.InDelta(t, 0.15, cfg.GetWheelRadius(), 1e-12)
		assert.Equal(t, steering.Ackermann, cfg.GetDriveLayout())
		assert.InDelta(t, 1.2, cfg.GetWheelbase(), 1e-12) // untouched default
	})
}

// TestValidate covers the rejection rules.
func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  TuningConfig
	}{
		{"negative wheel radius", TuningConfig{WheelRadius: ptrFloat64(-0.1)}},
		{"zero wheelbase", TuningConfig{Wheelbase: ptrFloat64(0)}},
		{"zero wheel track", TuningConfig{WheelTrack: ptrFloat64(0)}},
		{"window below one", TuningConfig{VelocityRollingWindowSize: ptrInt(0)}},
		{"unknown layout", TuningConfig{DriveLayout: ptrString("hovercraft")}},
		{"bad cycle interval", TuningConfig{CycleInterval: ptrString("fast")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, tc.cfg.Validate())
		})
	}

	assert.NoError(t, EmptyTuningConfig().Validate())
}

// TestGetterFallbacks verifies compiled defaults on an empty config.
func TestGetterFallbacks(t *testing.T) {
	t.Parallel()

	cfg := EmptyTuningConfig()

	assert.InDelta(t, 0.1, cfg.GetWheelRadius(), 1e-12)
	assert.Equal(t, steering.FourWheelSteering, cfg.GetDriveLayout())
	assert.Equal(t, 10, cfg.GetVelocityRollingWindowSize())
	assert.Equal(t, 20*time.Millisecond, cfg.GetCycleInterval())
	assert.Equal(t, 0.0, cfg.GetSteeringOffset())

	params := cfg.WheelParams()
	assert.InDelta(t, 1.2, params.Wheelbase, 1e-12)
	assert.InDelta(t, 0.8, params.Track, 1e-12)

	// Explicit values win over defaults.
	cfg.PositionFeedback = ptrBool(true)
	assert.True(t, cfg.GetPositionFeedback())
}

// TestLimiterConfigs verifies the NaN plumbing for absent minimums.
func TestLimiterConfigs(t *testing.T) {
	t.Parallel()

	cfg := EmptyTuningConfig()

	lin := cfg.LinearLimiterConfig()
	assert.True(t, lin.HasVelocityLimits)
	assert.True(t, lin.HasAccelerationLimits)
	assert.False(t, lin.HasJerkLimits)
	assert.InDelta(t, 2.0, lin.MaxVelocity, 1e-12)
	assert.True(t, math.IsNaN(lin.MinVelocity))

	// The limiter derives min = -max from the NaN minimum.
	l, err := limiter.New(lin)
	require.NoError(t, err)
	v, _ := l.LimitVelocity(-10)
	assert.InDelta(t, -2.0, v, 1e-12)

	ang := cfg.AngularLimiterConfig()
	assert.InDelta(t, 3.0, ang.MaxVelocity, 1e-12)
	assert.InDelta(t, 2.0, ang.MaxAcceleration, 1e-12)

	// Explicit minimum is passed through untouched.
	cfg.AngularMinVelocity = ptrFloat64(-0.5)
	ang = cfg.AngularLimiterConfig()
	assert.InDelta(t, -0.5, ang.MinVelocity, 1e-12)
}
