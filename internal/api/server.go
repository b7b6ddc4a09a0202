package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/db"
	"github.com/banshee-data/odometry.report/internal/feed"
	"github.com/banshee-data/odometry.report/internal/pipeline"
	"github.com/banshee-data/odometry.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m       feed.MuxInterface
	runtime *pipeline.Runtime
	db      *db.DB
	cfg     *config.TuningConfig
	units   string
}

func NewServer(m feed.MuxInterface, runtime *pipeline.Runtime, db *db.DB, cfg *config.TuningConfig, speedUnits string) *Server {
	return &Server{
		m:       m,
		runtime: runtime,
		db:      db,
		cfg:     cfg,
		units:   speedUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/samples", s.listSamples)
	mux.HandleFunc("/api/commands", s.handleCommands)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/reset", s.resetPose)
	mux.HandleFunc("/command", s.sendCommandHandler)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// stateResponse wraps the runtime snapshot with the units its linear velocity
// has been converted to. Angular velocity stays in rad/s; heading is repeated
// in degrees for display.
type stateResponse struct {
	pipeline.State
	HeadingDegrees float64 `json:"heading_degrees"`
	SpeedUnits     string  `json:"speed_units"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	state := s.runtime.Snapshot()
	state.LinearVelocity = units.ConvertSpeed(state.LinearVelocity, s.units)

	resp := stateResponse{
		State:          state,
		HeadingDegrees: units.Degrees(state.Heading),
		SpeedUnits:     s.units,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write state")
		return
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runs, err := s.db.Runs()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
		return
	}
}

// runQueryParams pulls the shared run_id and limit parameters off a sample or
// command listing request. An absent run_id selects the live run.
func (s *Server) runQueryParams(r *http.Request) (runID string, limit int, err error) {
	runID = r.URL.Query().Get("run_id")
	if runID == "" {
		runID = s.runtime.RunID()
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		parsedLimit, err := strconv.Atoi(l)
		if err != nil || parsedLimit < 1 {
			return "", 0, fmt.Errorf("invalid 'limit' parameter")
		}
		limit = parsedLimit
	}
	return runID, limit, nil
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID, limit, err := s.runQueryParams(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.db.PoseSamples(runID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}

	// Apply unit conversion to the linear speed of every sample
	for i := range samples {
		samples[i].Linear = units.ConvertSpeed(samples[i].Linear, s.units)
	}

	if err := json.NewEncoder(w).Encode(samples); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write samples")
		return
	}
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listCommands(w, r)
	case http.MethodPost:
		s.computeCommands(w, r)
	default:
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	runID, limit, err := s.runQueryParams(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	commands, err := s.db.WheelCommands(runID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve commands: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(commands); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write commands")
		return
	}
}

// CommandRequest is the body of POST /api/commands. Vx is in m/s; Angular is
// a turn rate in rad/s when FromTwist is true, otherwise a steer position in
// radians.
type CommandRequest struct {
	Vx        float64 `json:"vx"`
	Angular   float64 `json:"angular"`
	FromTwist bool    `json:"from_twist"`
}

// computeCommands responds with the recorded wheel command: the limited
// twist, the per-wheel targets, and the limiter ratio diagnostics.
func (s *Server) computeCommands(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cmd, err := s.runtime.Commands(req.Vx, req.Angular, req.FromTwist)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute commands: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(cmd); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write commands")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cfg := map[string]interface{}{
		"units":             s.units,
		"drive_layout":      s.cfg.GetDriveLayout().String(),
		"wheel_radius":      s.cfg.GetWheelRadius(),
		"wheelbase":         s.cfg.GetWheelbase(),
		"wheel_track":       s.cfg.GetWheelTrack(),
		"steering_offset":   s.cfg.GetSteeringOffset(),
		"position_feedback": s.cfg.GetPositionFeedback(),
		"open_loop":         s.cfg.GetOpenLoop(),
		"cycle_interval_ms": s.cfg.GetCycleInterval().Milliseconds(),
	}

	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

func (s *Server) resetPose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.runtime.Reset()
	io.WriteString(w, "Pose reset")
}
