// Command replay re-runs a recorded wheel telemetry log through the odometry
// pipeline and prints speed statistics for the resulting run.
//
// Each line of the log is one controller output line (telemetry frame, ack,
// or config report), exactly as captured from the wheel feed.
//
// Usage:
//
//	go run ./cmd/tools/replay -log drive.log
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/db"
	"github.com/banshee-data/odometry.report/internal/monitor"
	"github.com/banshee-data/odometry.report/internal/pipeline"
)

func main() {
	logPath := flag.String("log", "", "Path to the telemetry log file (required)")
	dbFile := flag.String("db", "replay.db", "Path to the sqlite database")
	configFile := flag.String("config", config.DefaultConfigPath, "Path to the tuning configuration")
	flag.Parse()

	if *logPath == "" {
		log.Fatal("Error: -log flag is required")
	}

	cfg, err := config.LoadTuningConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	runtime, err := pipeline.NewRuntime(cfg, database, "replay")
	if err != nil {
		log.Fatalf("failed to build odometry runtime: %v", err)
	}

	f, err := os.Open(*logPath)
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}
	defer f.Close()

	lines, errs, err := replayLines(runtime, f)
	if err != nil {
		log.Fatalf("failed to read log: %v", err)
	}
	log.Printf("replayed %d lines (%d handling errors) as run %s", lines, errs, runtime.RunID())
	if err := runtime.Finish(); err != nil {
		log.Fatalf("failed to close out run: %v", err)
	}

	samples, err := database.PoseSamples(runtime.RunID(), 100000)
	if err != nil {
		log.Fatalf("failed to load recorded samples: %v", err)
	}

	fmt.Println(monitor.Summarize(runtime.RunID(), samples))
}

// replayLines feeds each non-empty line of r through the runtime. Handling
// errors are counted and logged, not fatal, matching the live feed's
// behaviour.
func replayLines(runtime *pipeline.Runtime, r io.Reader) (lines, errs int, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++
		if err := runtime.HandleLine(line); err != nil {
			errs++
			log.Printf("error handling telemetry line: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, errs, err
	}
	return lines, errs, nil
}
