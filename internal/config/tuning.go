// Package config loads and validates the odometer tuning file. All values
// are optional in the JSON; per-field getters fall back to compiled
// defaults so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/odometry.report/internal/limiter"
	"github.com/banshee-data/odometry.report/internal/steering"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the odometry pipeline. The
// schema matches the /api/config endpoint so the same JSON serves startup
// configuration and runtime inspection.
type TuningConfig struct {
	// Vehicle geometry
	WheelRadius    *float64 `json:"wheel_radius,omitempty"`
	Wheelbase      *float64 `json:"wheelbase,omitempty"`
	WheelTrack     *float64 `json:"wheel_track,omitempty"`
	SteeringOffset *float64 `json:"steering_offset,omitempty"`

	// Estimator params
	DriveLayout               *string `json:"drive_layout,omitempty"`
	VelocityRollingWindowSize *int    `json:"velocity_rolling_window_size,omitempty"`
	PositionFeedback          *bool   `json:"position_feedback,omitempty"`
	OpenLoop                  *bool   `json:"open_loop,omitempty"`
	CycleInterval             *string `json:"cycle_interval,omitempty"` // duration string like "20ms"

	// Linear command limits. Unset minimums derive from the negated max.
	LinearHasVelocityLimits     *bool    `json:"linear_has_velocity_limits,omitempty"`
	LinearMinVelocity           *float64 `json:"linear_min_velocity,omitempty"`
	LinearMaxVelocity           *float64 `json:"linear_max_velocity,omitempty"`
	LinearHasAccelerationLimits *bool    `json:"linear_has_acceleration_limits,omitempty"`
	LinearMinAcceleration       *float64 `json:"linear_min_acceleration,omitempty"`
	LinearMaxAcceleration       *float64 `json:"linear_max_acceleration,omitempty"`
	LinearHasJerkLimits         *bool    `json:"linear_has_jerk_limits,omitempty"`
	LinearMinJerk               *float64 `json:"linear_min_jerk,omitempty"`
	LinearMaxJerk               *float64 `json:"linear_max_jerk,omitempty"`

	// Angular command limits
	AngularHasVelocityLimits     *bool    `json:"angular_has_velocity_limits,omitempty"`
	AngularMinVelocity           *float64 `json:"angular_min_velocity,omitempty"`
	AngularMaxVelocity           *float64 `json:"angular_max_velocity,omitempty"`
	AngularHasAccelerationLimits *bool    `json:"angular_has_acceleration_limits,omitempty"`
	AngularMinAcceleration       *float64 `json:"angular_min_acceleration,omitempty"`
	AngularMaxAcceleration       *float64 `json:"angular_max_acceleration,omitempty"`
	AngularHasJerkLimits         *bool    `json:"angular_has_jerk_limits,omitempty"`
	AngularMinJerk               *float64 `json:"angular_min_jerk,omitempty"`
	AngularMaxJerk               *float64 `json:"angular_max_jerk,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Pointer-or-default helpers used by the limiter assembly.
func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// floatOrNaN maps an absent bound to NaN so the limiter applies its own
// defaulting rules (min = -max).
func floatOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON keep their compiled defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into an empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for startup
// and test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from cmd/tools/*
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.WheelRadius != nil && *c.WheelRadius <= 0 {
		return fmt.Errorf("wheel_radius must be positive, got %f", *c.WheelRadius)
	}
	if c.Wheelbase != nil && *c.Wheelbase <= 0 {
		return fmt.Errorf("wheelbase must be positive, got %f", *c.Wheelbase)
	}
	if c.WheelTrack != nil && *c.WheelTrack <= 0 {
		return fmt.Errorf("wheel_track must be positive, got %f", *c.WheelTrack)
	}
	if c.VelocityRollingWindowSize != nil && *c.VelocityRollingWindowSize < 1 {
		return fmt.Errorf("velocity_rolling_window_size must be at least 1, got %d", *c.VelocityRollingWindowSize)
	}
	if c.DriveLayout != nil {
		if _, err := steering.ParseDriveLayout(*c.DriveLayout); err != nil {
			return fmt.Errorf("invalid drive_layout: %w", err)
		}
	}
	if c.CycleInterval != nil && *c.CycleInterval != "" {
		if _, err := time.ParseDuration(*c.CycleInterval); err != nil {
			return fmt.Errorf("invalid cycle_interval '%s': %w", *c.CycleInterval, err)
		}
	}
	return nil
}

// GetWheelRadius returns the wheel_radius value or the default.
func (c *TuningConfig) GetWheelRadius() float64 {
	if c.WheelRadius == nil {
		return 0.1 // default
	}
	return *c.WheelRadius
}

// GetWheelbase returns the wheelbase value or the default.
func (c *TuningConfig) GetWheelbase() float64 {
	if c.Wheelbase == nil {
		return 1.2 // default
	}
	return *c.Wheelbase
}

// GetWheelTrack returns the wheel_track value or the default.
func (c *TuningConfig) GetWheelTrack() float64 {
	if c.WheelTrack == nil {
		return 0.8 // default
	}
	return *c.WheelTrack
}

// GetSteeringOffset returns the steering_offset value or the default.
func (c *TuningConfig) GetSteeringOffset() float64 {
	if c.SteeringOffset == nil {
		return 0 // default: pivots at the wheel centers
	}
	return *c.SteeringOffset
}

// GetDriveLayout parses and returns the drive_layout, defaulting to
// four-wheel steering on absent or unparseable values.
func (c *TuningConfig) GetDriveLayout() steering.DriveLayout {
	if c.DriveLayout == nil {
		return steering.FourWheelSteering // default
	}
	layout, err := steering.ParseDriveLayout(*c.DriveLayout)
	if err != nil {
		return steering.FourWheelSteering // default on parse error
	}
	return layout
}

// GetVelocityRollingWindowSize returns the velocity_rolling_window_size
// value or the default.
func (c *TuningConfig) GetVelocityRollingWindowSize() int {
	if c.VelocityRollingWindowSize == nil {
		return 10 // default
	}
	return *c.VelocityRollingWindowSize
}

// GetPositionFeedback returns the position_feedback value or the default.
func (c *TuningConfig) GetPositionFeedback() bool {
	if c.PositionFeedback == nil {
		return false // default: wheels report rates
	}
	return *c.PositionFeedback
}

// GetOpenLoop returns the open_loop value or the default.
func (c *TuningConfig) GetOpenLoop() bool {
	if c.OpenLoop == nil {
		return false
	}
	return *c.OpenLoop
}

// GetCycleInterval parses and returns the CycleInterval as a time.Duration.
func (c *TuningConfig) GetCycleInterval() time.Duration {
	if c.CycleInterval == nil || *c.CycleInterval == "" {
		return 20 * time.Millisecond // default: 50Hz control loop
	}
	d, err := time.ParseDuration(*c.CycleInterval)
	if err != nil {
		return 20 * time.Millisecond // default on parse error
	}
	return d
}

// WheelParams assembles the steering geometry from the tuning values.
func (c *TuningConfig) WheelParams() steering.WheelParams {
	return steering.WheelParams{
		Radius:         c.GetWheelRadius(),
		Wheelbase:      c.GetWheelbase(),
		Track:          c.GetWheelTrack(),
		SteeringOffset: c.GetSteeringOffset(),
	}
}

// LinearLimiterConfig assembles the linear-channel limiter bounds. Absent
// minimums become NaN so the limiter derives them from the negated max.
func (c *TuningConfig) LinearLimiterConfig() limiter.Config {
	return limiter.Config{
		HasVelocityLimits:     boolOr(c.LinearHasVelocityLimits, true),
		HasAccelerationLimits: boolOr(c.LinearHasAccelerationLimits, true),
		HasJerkLimits:         boolOr(c.LinearHasJerkLimits, false),
		MinVelocity:           floatOrNaN(c.LinearMinVelocity),
		MaxVelocity:           floatOr(c.LinearMaxVelocity, 2.0),
		MinAcceleration:       floatOrNaN(c.LinearMinAcceleration),
		MaxAcceleration:       floatOr(c.LinearMaxAcceleration, 1.0),
		MinJerk:               floatOrNaN(c.LinearMinJerk),
		MaxJerk:               floatOr(c.LinearMaxJerk, 5.0),
	}
}

// AngularLimiterConfig assembles the angular-channel limiter bounds.
func (c *TuningConfig) AngularLimiterConfig() limiter.Config {
	return limiter.Config{
		HasVelocityLimits:     boolOr(c.AngularHasVelocityLimits, true),
		HasAccelerationLimits: boolOr(c.AngularHasAccelerationLimits, true),
		HasJerkLimits:         boolOr(c.AngularHasJerkLimits, false),
		MinVelocity:           floatOrNaN(c.AngularMinVelocity),
		MaxVelocity:           floatOr(c.AngularMaxVelocity, 3.0),
		MinAcceleration:       floatOrNaN(c.AngularMinAcceleration),
		MaxAcceleration:       floatOr(c.AngularMaxAcceleration, 2.0),
		MinJerk:               floatOrNaN(c.AngularMinJerk),
		MaxJerk:               floatOr(c.AngularMaxJerk, 10.0),
	}
}
