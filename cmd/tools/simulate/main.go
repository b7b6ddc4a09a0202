// Command simulate drives a synthetic twist schedule through the command
// limiters and the open-loop tracker, records the run to sqlite, and writes
// an HTML chart report plus static PNG plots.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/db"
	"github.com/banshee-data/odometry.report/internal/monitor"
	"github.com/banshee-data/odometry.report/internal/pipeline"
	"github.com/banshee-data/odometry.report/internal/units"
)

// phase is one leg of the synthetic drive: hold the requested twist for the
// given duration and let the limiters shape the transition into it.
type phase struct {
	name     string
	duration time.Duration
	linear   float64 // m/s
	angular  float64 // rad/s
}

// schedule exercises acceleration, both turn directions, and braking.
var schedule = []phase{
	{"pull away", 3 * time.Second, 1.5, 0},
	{"left curve", 4 * time.Second, 1.5, 0.6},
	{"straight", 3 * time.Second, 2.0, 0},
	{"right curve", 4 * time.Second, 1.5, -0.6},
	{"brake", 3 * time.Second, 0, 0},
}

// runSchedule drives every phase through the runtime at the given cycle
// interval and returns the final uptime stamp.
func runSchedule(runtime *pipeline.Runtime, cycle time.Duration) (int64, error) {
	uptimeMs := int64(0)
	for _, p := range schedule {
		steps := int(p.duration / cycle)
		for i := 0; i < steps; i++ {
			uptimeMs += cycle.Milliseconds()
			if _, _, err := runtime.ApplyTwist(p.linear, p.angular, uptimeMs); err != nil {
				return uptimeMs, fmt.Errorf("failed to apply twist during %q: %w", p.name, err)
			}
		}
		state := runtime.Snapshot()
		log.Printf("%-12s t=%5.1fs pose=(%.2f, %.2f) heading=%.1fdeg v=%.2fm/s w=%.2frad/s",
			p.name, float64(uptimeMs)/1000.0, state.X, state.Y, units.Degrees(state.Heading),
			state.LinearVelocity, state.AngularVelocity)
	}
	return uptimeMs, nil
}

func main() {
	dbFile := flag.String("db", "", "Path to the sqlite database (default <out>/simulate.db)")
	configFile := flag.String("config", config.DefaultConfigPath, "Path to the tuning configuration")
	outputDir := flag.String("out", "simulated_runs", "Base directory for reports and plots")
	label := flag.String("label", "", "Optional label folder for this run's output")
	flag.Parse()

	cfg, err := config.LoadTuningConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	outDir := monitor.MakePlotOutputDir(*outputDir, *label)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	dbPath := *dbFile
	if dbPath == "" {
		dbPath = filepath.Join(outDir, "simulate.db")
	}
	database, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	runtime, err := pipeline.NewRuntime(cfg, database, "simulated")
	if err != nil {
		log.Fatalf("failed to build odometry runtime: %v", err)
	}
	log.Printf("recording simulated run %s (layout %s)", runtime.RunID(), cfg.GetDriveLayout())

	if _, err := runSchedule(runtime, cfg.GetCycleInterval()); err != nil {
		log.Fatalf("simulation failed: %v", err)
	}
	if err := runtime.Finish(); err != nil {
		log.Fatalf("failed to close out run: %v", err)
	}

	samples, err := database.PoseSamples(runtime.RunID(), 100000)
	if err != nil {
		log.Fatalf("failed to load recorded samples: %v", err)
	}

	reportPath := filepath.Join(outDir, "report.html")
	report, err := os.Create(reportPath)
	if err != nil {
		log.Fatalf("Failed to create report file: %v", err)
	}
	subtitle := fmt.Sprintf("run=%s points=%d", runtime.RunID(), len(samples))
	if err := monitor.WriteRunReport(report, samples, subtitle); err != nil {
		report.Close()
		log.Fatalf("failed to render report: %v", err)
	}
	if err := report.Close(); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}

	plots, err := monitor.NewTrackPlotter(runtime.RunID(), samples).SavePlots(outDir)
	if err != nil {
		log.Fatalf("failed to save plots: %v", err)
	}

	fmt.Println(monitor.Summarize(runtime.RunID(), samples))
	log.Printf("report: %s", reportPath)
	for _, p := range plots {
		log.Printf("plot: %s", p)
	}
	log.Printf("database: %s", dbPath)
}
