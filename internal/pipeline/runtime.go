// Package pipeline wires controller telemetry through the steering estimator
// and the speed limiters, and persists what comes out.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/db"
	"github.com/banshee-data/odometry.report/internal/feed"
	"github.com/banshee-data/odometry.report/internal/limiter"
	"github.com/banshee-data/odometry.report/internal/steering"
)

// Runtime owns one drive session: the pose estimator, the twist limiters and
// their command history, and the database the session is recorded into.
type Runtime struct {
	mu      sync.Mutex
	tracker *steering.Tracker
	linear  *limiter.Limiter
	angular *limiter.Limiter

	database *db.DB // nil disables persistence
	runID    string

	positionFeedback bool
	openLoop         bool
	cycleSeconds     float64

	lastUptimeMs int64
	hasUptime    bool

	frames     int64
	degenerate int64

	// last two issued twist commands, newest first, for the jerk and
	// acceleration limits
	linearHistory  [2]float64
	angularHistory [2]float64
}

// State is a point-in-time copy of the runtime for the API layer.
type State struct {
	RunID            string  `json:"run_id"`
	DriveLayout      string  `json:"drive_layout"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	Heading          float64 `json:"heading"`
	LinearVelocity   float64 `json:"linear_velocity"`
	AngularVelocity  float64 `json:"angular_velocity"`
	SteerPosition    float64 `json:"steer_position"`
	UptimeMs         int64   `json:"uptime_ms"`
	Frames           int64   `json:"frames"`
	DegenerateCycles int64   `json:"degenerate_cycles"`
}

// NewRuntime builds a runtime from the tuning config and opens a new run in
// the database. Source labels where the telemetry comes from ("live",
// "simulated", "replay"). A nil database disables persistence.
func NewRuntime(cfg *config.TuningConfig, database *db.DB, source string) (*Runtime, error) {
	tracker := steering.NewTracker(cfg.GetVelocityRollingWindowSize())
	tracker.SetWheelParams(cfg.WheelParams())

	layout := cfg.GetDriveLayout()
	tracker.SetDriveLayout(layout)

	linear, err := limiter.New(cfg.LinearLimiterConfig())
	if err != nil {
		return nil, fmt.Errorf("linear limiter: %w", err)
	}
	angular, err := limiter.New(cfg.AngularLimiterConfig())
	if err != nil {
		return nil, fmt.Errorf("angular limiter: %w", err)
	}

	r := &Runtime{
		tracker:          tracker,
		linear:           linear,
		angular:          angular,
		database:         database,
		runID:            uuid.New().String(),
		positionFeedback: cfg.GetPositionFeedback(),
		openLoop:         cfg.GetOpenLoop(),
		cycleSeconds:     cfg.GetCycleInterval().Seconds(),
	}

	if database != nil {
		if err := database.InsertRun(r.runID, layout.String(), source); err != nil {
			return nil, fmt.Errorf("failed to open run: %w", err)
		}
	}

	return r, nil
}

// RunID returns the identifier of the drive session this runtime records.
func (r *Runtime) RunID() string {
	return r.runID
}

// Start subscribes to the mux and processes telemetry until the context is
// cancelled. Handling errors are logged, not fatal: one bad line must not
// stop the feed.
func (r *Runtime) Start(ctx context.Context, mux feed.MuxInterface) {
	id, c := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case payload, ok := <-c:
			if !ok {
				log.Printf("telemetry channel closed")
				return
			}
			if err := r.HandleLine(payload); err != nil {
				log.Printf("error handling telemetry line: %v", err)
			}
		case <-ctx.Done():
			log.Printf("telemetry routine terminated")
			return
		}
	}
}

// HandleLine routes one controller output line by its event type.
func (r *Runtime) HandleLine(payload string) error {
	switch feed.Classify(payload) {
	case feed.EventTypeFrame:
		frame, err := feed.ParseFrame(payload)
		if err != nil {
			return err
		}
		return r.ProcessFrame(frame)
	case feed.EventTypeAck:
		log.Printf("controller ack: %s", payload)
		return nil
	case feed.EventTypeConfig:
		return feed.HandleConfigReport(payload)
	default:
		log.Printf("unknown controller line: %s", payload)
		return nil
	}
}

// ProcessFrame runs one telemetry frame through the estimator. The first
// frame of a session only establishes the uptime baseline. Frames with
// non-finite values, a repeated uptime, or an uptime regression (controller
// reboot) count as degenerate cycles and never reach the tracker; regressions
// re-arm the baseline. If the wheel math itself goes non-finite (degenerate
// steering geometry), the estimator restarts from the origin rather than
// recording a poisoned pose. In open-loop mode frames only maintain the
// uptime baseline; pose comes from the commanded twist.
func (r *Runtime) ProcessFrame(frame feed.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !finiteFeedback(frame.Feedback) {
		r.degenerate++
		return fmt.Errorf("frame at uptime %d carries non-finite values", frame.Uptime)
	}

	if r.openLoop {
		r.hasUptime = true
		r.lastUptimeMs = frame.Uptime
		return nil
	}

	if !r.hasUptime {
		r.hasUptime = true
		r.lastUptimeMs = frame.Uptime
		return nil
	}

	if frame.Uptime == r.lastUptimeMs {
		// A repeated sample carries no motion, and a zero dt would poison
		// the position-mode wheel differencing with 0/0.
		r.degenerate++
		return fmt.Errorf("controller repeated uptime %d, skipping frame", frame.Uptime)
	}

	if frame.Uptime < r.lastUptimeMs {
		previous := r.lastUptimeMs
		r.degenerate++
		r.lastUptimeMs = frame.Uptime
		return fmt.Errorf("controller uptime went backwards (%d after %d), re-arming baseline",
			frame.Uptime, previous)
	}

	dt := float64(frame.Uptime-r.lastUptimeMs) / 1000.0
	r.lastUptimeMs = frame.Uptime

	fb := frame.Feedback
	fb.Positions = r.positionFeedback
	if fb.Shape == steering.FourIndependent {
		// four-wheel sensors only report rates
		fb.Positions = false
	}

	fresh, err := r.tracker.Update(fb, dt)
	if err != nil {
		r.degenerate++
		return err
	}
	if !finiteEstimates(r.tracker) {
		// the pose is unrecoverable once NaN integrates into it
		r.degenerate++
		r.tracker.Reset()
		r.tracker.UpdateOpenLoop(0, 0, 0)
		return fmt.Errorf("estimates went non-finite at uptime %d, restarting from the origin", frame.Uptime)
	}
	r.frames++
	if !fresh {
		// interval too short for a velocity estimate; the pose still advanced
		r.degenerate++
		return nil
	}

	return r.recordPoseLocked(frame.Uptime)
}

// ApplyTwist limits a requested twist against the command history and
// integrates it open-loop. It is the drive path for simulated sessions, where
// there is no wheel feedback to close the loop with. Uptime stamps the
// persisted sample.
func (r *Runtime) ApplyTwist(linear, angular float64, uptimeMs int64) (limitedLinear, limitedAngular float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limitedLinear, _, limitedAngular, _ = r.limitTwistLocked(linear, angular)

	r.tracker.UpdateOpenLoop(limitedLinear, limitedAngular, r.cycleSeconds)
	r.frames++
	r.lastUptimeMs = uptimeMs
	r.hasUptime = true

	if err := r.recordPoseLocked(uptimeMs); err != nil {
		return limitedLinear, limitedAngular, err
	}
	return limitedLinear, limitedAngular, nil
}

// Commands limits a requested twist, converts it to per-wheel traction and
// steering commands for the configured layout, and records the result. With
// fromTwist false the angular argument is taken as a steer position rather
// than a turn rate. In open-loop mode the limited twist is also integrated
// into the pose over one control cycle, since wheel feedback is not trusted
// to close the loop. The returned command carries the limited twist and the
// bounded/requested ratio of each channel.
func (r *Runtime) Commands(linear, angular float64, fromTwist bool) (db.WheelCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limitedLinear, linearRatio, limitedAngular, angularRatio := r.limitTwistLocked(linear, angular)

	traction, steerCmds, err := r.tracker.Commands(limitedLinear, limitedAngular, fromTwist)
	if err != nil {
		return db.WheelCommand{}, err
	}

	if r.openLoop && fromTwist {
		// angular is a turn rate only in twist mode; a raw steer position
		// must not integrate as one
		r.tracker.UpdateOpenLoop(limitedLinear, limitedAngular, r.cycleSeconds)
		r.frames++
		if err := r.recordPoseLocked(r.lastUptimeMs); err != nil {
			return db.WheelCommand{}, err
		}
	}

	cmd := db.WheelCommand{
		RunID:        r.runID,
		UptimeMs:     r.lastUptimeMs,
		Linear:       limitedLinear,
		Angular:      limitedAngular,
		FromTwist:    fromTwist,
		Traction:     traction,
		Steering:     steerCmds,
		LinearRatio:  linearRatio,
		AngularRatio: angularRatio,
	}
	if r.database != nil {
		if err := r.database.RecordWheelCommand(cmd); err != nil {
			return db.WheelCommand{}, fmt.Errorf("failed to record wheel command: %w", err)
		}
	}

	return cmd, nil
}

// limitTwistLocked applies the jerk, acceleration, and velocity limits to the
// requested twist over one control cycle and shifts the command history. The
// ratios report how much of each requested channel survived the limits.
func (r *Runtime) limitTwistLocked(linear, angular float64) (limitedLinear, linearRatio, limitedAngular, angularRatio float64) {
	limitedLinear, linearRatio = r.linear.Limit(linear, r.linearHistory[0], r.linearHistory[1], r.cycleSeconds)
	limitedAngular, angularRatio = r.angular.Limit(angular, r.angularHistory[0], r.angularHistory[1], r.cycleSeconds)

	r.linearHistory[1] = r.linearHistory[0]
	r.linearHistory[0] = limitedLinear
	r.angularHistory[1] = r.angularHistory[0]
	r.angularHistory[0] = limitedAngular

	return limitedLinear, linearRatio, limitedAngular, angularRatio
}

// Finish stamps the run's end time so listings can tell a completed session
// from one still recording. A runtime without a database has nothing to stamp.
func (r *Runtime) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.database == nil {
		return nil
	}
	return r.database.FinishRun(r.runID)
}

// Reset zeroes the integrated pose and restarts velocity smoothing. Wheel
// geometry, layout, and the command history stay as they are.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker.Reset()
}

// Snapshot returns a copy of the current estimator state.
func (r *Runtime) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return State{
		RunID:            r.runID,
		DriveLayout:      r.tracker.DriveLayoutConfigured().String(),
		X:                r.tracker.X(),
		Y:                r.tracker.Y(),
		Heading:          r.tracker.Heading(),
		LinearVelocity:   r.tracker.LinearVelocity(),
		AngularVelocity:  r.tracker.AngularVelocity(),
		SteerPosition:    r.tracker.SteerPosition(),
		UptimeMs:         r.lastUptimeMs,
		Frames:           r.frames,
		DegenerateCycles: r.degenerate,
	}
}

func (r *Runtime) recordPoseLocked(uptimeMs int64) error {
	if r.database == nil {
		return nil
	}
	if err := r.database.RecordPoseSample(db.PoseSample{
		RunID:    r.runID,
		UptimeMs: uptimeMs,
		X:        r.tracker.X(),
		Y:        r.tracker.Y(),
		Heading:  r.tracker.Heading(),
		Linear:   r.tracker.LinearVelocity(),
		Angular:  r.tracker.AngularVelocity(),
		Steer:    r.tracker.SteerPosition(),
	}); err != nil {
		return fmt.Errorf("failed to record pose sample: %w", err)
	}
	return nil
}

func finiteFeedback(fb steering.Feedback) bool {
	for _, v := range fb.Traction {
		if !isFinite(v) {
			return false
		}
	}
	for _, v := range fb.Steer {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

// finiteEstimates reports whether the estimator state is numerically usable.
// The four-wheel-steering math carries unguarded denominators, so finite
// wheel feedback can still produce a non-finite pose.
func finiteEstimates(t *steering.Tracker) bool {
	for _, v := range []float64{
		t.X(), t.Y(), t.Heading(),
		t.LinearVelocity(), t.AngularVelocity(),
	} {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
