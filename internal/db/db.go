package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the database without touching the schema. Use NewDB for the
// normal path; OpenDB exists for the migrate subcommand, which manages the
// schema itself.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

// NewDB opens the database and brings the schema up to the latest embedded
// migration.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

// Run is one recorded drive session. EndedAt is nil while the session is
// still recording.
type Run struct {
	RunID       string     `json:"run_id"`
	DriveLayout string     `json:"drive_layout"`
	Source      string     `json:"source"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (r *Run) String() string {
	return fmt.Sprintf("RunID: %s, DriveLayout: %s, Source: %s, StartedAt: %s",
		r.RunID, r.DriveLayout, r.Source, r.StartedAt.Format(time.RFC3339))
}

// InsertRun records the start of a drive session.
func (db *DB) InsertRun(runID, driveLayout, source string) error {
	_, err := db.Exec(
		"INSERT INTO runs (run_id, drive_layout, source) VALUES (?, ?, ?)",
		runID, driveLayout, source,
	)
	if err != nil {
		return err
	}
	return nil
}

// FinishRun stamps the end of a drive session. Only the first call takes
// effect, so a session keeps its original end time across repeated shutdown
// paths.
func (db *DB) FinishRun(runID string) error {
	_, err := db.Exec(
		"UPDATE runs SET ended_at = CURRENT_TIMESTAMP WHERE run_id = ? AND ended_at IS NULL",
		runID,
	)
	if err != nil {
		return err
	}
	return nil
}

// Runs returns the most recent drive sessions.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(
		"SELECT run_id, drive_layout, source, started_at, ended_at FROM runs ORDER BY started_at DESC LIMIT 100")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var endedAt sql.NullTime
		if err := rows.Scan(&r.RunID, &r.DriveLayout, &r.Source, &r.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			r.EndedAt = &endedAt.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// PoseSample is one estimator output cycle: the integrated pose plus the
// smoothed body velocities and the measured steering position.
type PoseSample struct {
	RunID    string  `json:"run_id"`
	UptimeMs int64   `json:"uptime_ms"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Heading  float64 `json:"heading"`
	Linear   float64 `json:"linear"`
	Angular  float64 `json:"angular"`
	Steer    float64 `json:"steer"`
}

func (s *PoseSample) String() string {
	return fmt.Sprintf("RunID: %s, UptimeMs: %d, X: %f, Y: %f, Heading: %f, Linear: %f, Angular: %f, Steer: %f",
		s.RunID, s.UptimeMs, s.X, s.Y, s.Heading, s.Linear, s.Angular, s.Steer)
}

// RecordPoseSample persists one estimator cycle.
func (db *DB) RecordPoseSample(s PoseSample) error {
	_, err := db.Exec(
		`INSERT INTO pose_samples (run_id, uptime_ms, x, y, heading, linear, angular, steer)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.UptimeMs, s.X, s.Y, s.Heading, s.Linear, s.Angular, s.Steer,
	)
	if err != nil {
		return err
	}
	return nil
}

// PoseSamples returns up to limit samples for the given run in uptime order.
// A non-positive limit applies the default of 500.
func (db *DB) PoseSamples(runID string, limit int) ([]PoseSample, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(
		`SELECT run_id, uptime_ms, x, y, heading, linear, angular, steer
		 FROM pose_samples WHERE run_id = ? ORDER BY uptime_ms ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []PoseSample
	for rows.Next() {
		var s PoseSample
		if err := rows.Scan(&s.RunID, &s.UptimeMs, &s.X, &s.Y, &s.Heading, &s.Linear, &s.Angular, &s.Steer); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// WheelCommand is one inverse-kinematics result: the limited body twist, the
// per-wheel traction and steering commands computed from it, and the
// limiter's bounded/requested ratios. FromTwist records whether the angular
// input was a turn rate or a direct steer position.
type WheelCommand struct {
	RunID        string    `json:"run_id"`
	UptimeMs     int64     `json:"uptime_ms"`
	Linear       float64   `json:"linear"`
	Angular      float64   `json:"angular"`
	FromTwist    bool      `json:"from_twist"`
	Traction     []float64 `json:"traction"`
	Steering     []float64 `json:"steering"`
	LinearRatio  float64   `json:"linear_ratio"`
	AngularRatio float64   `json:"angular_ratio"`
}

func (c *WheelCommand) String() string {
	return fmt.Sprintf("RunID: %s, UptimeMs: %d, Linear: %f, Angular: %f, Traction: %v, Steering: %v",
		c.RunID, c.UptimeMs, c.Linear, c.Angular, c.Traction, c.Steering)
}

// RecordWheelCommand persists one inverse-kinematics result. The per-wheel
// slices are stored as JSON arrays.
func (db *DB) RecordWheelCommand(c WheelCommand) error {
	traction, err := json.Marshal(c.Traction)
	if err != nil {
		return fmt.Errorf("failed to marshal traction commands: %w", err)
	}
	steering, err := json.Marshal(c.Steering)
	if err != nil {
		return fmt.Errorf("failed to marshal steering commands: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO wheel_commands (run_id, uptime_ms, linear, angular, from_twist, traction, steering, linear_ratio, angular_ratio)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.UptimeMs, c.Linear, c.Angular, c.FromTwist,
		string(traction), string(steering), c.LinearRatio, c.AngularRatio,
	)
	if err != nil {
		return err
	}
	return nil
}

// WheelCommands returns up to limit commands for the given run in uptime
// order. A non-positive limit applies the default of 500.
func (db *DB) WheelCommands(runID string, limit int) ([]WheelCommand, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(
		`SELECT run_id, uptime_ms, linear, angular, from_twist, traction, steering, linear_ratio, angular_ratio
		 FROM wheel_commands WHERE run_id = ? ORDER BY uptime_ms ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []WheelCommand
	for rows.Next() {
		var c WheelCommand
		var traction, steering string
		if err := rows.Scan(&c.RunID, &c.UptimeMs, &c.Linear, &c.Angular, &c.FromTwist,
			&traction, &steering, &c.LinearRatio, &c.AngularRatio); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(traction), &c.Traction); err != nil {
			return nil, fmt.Errorf("failed to unmarshal traction commands: %w", err)
		}
		if err := json.Unmarshal([]byte(steering), &c.Steering); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steering commands: %w", err)
		}
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return commands, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://odometry.db", db.DB, &tailsql.DBOptions{
		Label: "Odometry DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
