package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/odometry.report/internal/api"
	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/db"
	"github.com/banshee-data/odometry.report/internal/feed"
	"github.com/banshee-data/odometry.report/internal/monitor"
	"github.com/banshee-data/odometry.report/internal/pipeline"
	"github.com/banshee-data/odometry.report/internal/steering"
	"github.com/banshee-data/odometry.report/internal/units"
)

var (
	devMode      = flag.Bool("dev", false, "Run against a synthetic wheel controller instead of real hardware")
	disableFeed  = flag.Bool("disable-feed", false, "Run without a wheel controller (HTTP API only)")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	portPath     = flag.String("port", "/dev/ttyACM0", "Wheel controller serial port (ignored in dev mode)")
	baudRate     = flag.Int("baud", 115200, "Wheel controller baud rate")
	dbFile       = flag.String("db", "odometry.db", "Path to the sqlite database")
	configFile   = flag.String("config", config.DefaultConfigPath, "Path to the tuning configuration")
	speedUnits   = flag.String("units", units.MPH, "Speed units for reporting ("+units.GetValidUnitsString()+")")
	openLoop     = flag.Bool("open-loop", false, "Integrate commanded velocities instead of wheel feedback")
	mockInterval = flag.Duration("mock-interval", 20*time.Millisecond, "Synthetic frame interval in dev mode")
)

// mockFrame builds the feedback frame the synthetic controller repeats in
// dev mode: a gentle left curve at roughly walking pace, shaped for the
// configured drive layout.
func mockFrame(layout steering.DriveLayout, wheelRadius float64) feed.Frame {
	// wheel rate for 1 m/s of ground speed, with the outer wheels a touch
	// faster than the inner ones
	base := units.WheelAngularSpeed(1.0, wheelRadius)
	var fb steering.Feedback
	switch layout {
	case steering.Tricycle:
		fb.Shape = steering.DualTractionSteer
		fb.Traction = [4]float64{1.02 * base, 0.98 * base}
		fb.Steer = [2]float64{units.Radians(6)}
	case steering.Ackermann:
		fb.Shape = steering.DualTractionDualSteer
		fb.Traction = [4]float64{1.02 * base, 0.98 * base}
		fb.Steer = [2]float64{units.Radians(6.5), units.Radians(5.5)}
	case steering.FourWheelSteering:
		fb.Shape = steering.FourIndependent
		fb.Traction = [4]float64{1.02 * base, 0.98 * base, 1.01 * base, 0.99 * base}
		fb.Steer = [2]float64{units.Radians(6), units.Radians(-3)}
	default:
		fb.Shape = steering.SingleTractionSteer
		fb.Traction = [4]float64{base}
		fb.Steer = [2]float64{units.Radians(6)}
	}
	return feed.Frame{Feedback: fb}
}

// splitMigrateArgs separates the --db-path option from the migrate verbs.
// The help examples put the verb first, so a plain FlagSet parse would stop
// before reaching the option.
func splitMigrateArgs(args []string) (verbs []string, dbPath string, err error) {
	dbPath = "odometry.db"
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--db-path" || arg == "-db-path":
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("%s requires a value", arg)
			}
			i++
			dbPath = args[i]
		case strings.HasPrefix(arg, "--db-path="):
			dbPath = strings.TrimPrefix(arg, "--db-path=")
		case strings.HasPrefix(arg, "-db-path="):
			dbPath = strings.TrimPrefix(arg, "-db-path=")
		default:
			verbs = append(verbs, arg)
		}
	}
	return verbs, dbPath, nil
}

// Main
func main() {
	// The migrate subcommand dispatches before flag parsing so its verbs
	// are not mistaken for flags.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		verbs, dbPath, err := splitMigrateArgs(os.Args[2:])
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		db.RunMigrateCommand(verbs, dbPath)
		return
	}

	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !*devMode && !*disableFeed && *portPath == "" {
		log.Fatal("Serial port is required")
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid units %q: valid units are %s", *speedUnits, units.GetValidUnitsString())
	}

	cfg, err := config.LoadTuningConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	if *openLoop {
		enabled := true
		cfg.OpenLoop = &enabled
	}

	var wheelMux feed.MuxInterface
	source := "live"
	switch {
	case *disableFeed:
		wheelMux = feed.NewDisabledMux()
	case *devMode:
		wheelMux = feed.NewMockMux(mockFrame(cfg.GetDriveLayout(), cfg.GetWheelRadius()), *mockInterval)
		source = "dev"
	default:
		m, err := feed.NewRealMux(*portPath, feed.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("failed to open wheel controller port: %v", err)
		}
		wheelMux = m
	}
	defer wheelMux.Close()

	if err := wheelMux.Initialize(); err != nil {
		log.Fatalf("failed to initialize wheel controller: %v", err)
	}
	log.Printf("wheel controller ready (layout %s)", cfg.GetDriveLayout())

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	runtime, err := pipeline.NewRuntime(cfg, database, source)
	if err != nil {
		log.Fatalf("failed to build odometry runtime: %v", err)
	}
	log.Printf("recording run %s", runtime.RunID())

	// Create a wait group for the HTTP server, port monitor, and pipeline routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the controller port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wheelMux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor wheel controller: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to controller telemetry and feed it through the estimator
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.Start(ctx, wheelMux)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// create a new API server instance using the wheel mux, runtime, and
		// database, and mount the API handlers
		mux := api.NewServer(wheelMux, runtime, database, cfg, *speedUnits).ServeMux()

		wheelMux.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)
		monitor.NewChartServer(database, runtime).AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	if err := runtime.Finish(); err != nil {
		log.Printf("failed to close out run: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
