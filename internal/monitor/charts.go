// Package monitor renders recorded runs as debugging charts, static plots,
// and speed statistics.
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/odometry.report/internal/db"
	"github.com/banshee-data/odometry.report/internal/pipeline"
)

// echartsAssetsPrefix points chart pages at the public go-echarts asset host.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// sampleFetchLimit bounds how many samples a chart handler pulls from the
// database before downsampling.
const sampleFetchLimit = 50000

// viridis is the color ramp used by the chart visual maps.
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ChartServer renders debugging charts over recorded runs. When a request
// carries no run_id it falls back to the live runtime's run, or to the most
// recent recorded run if no runtime is attached.
type ChartServer struct {
	db      *db.DB
	runtime *pipeline.Runtime
}

func NewChartServer(database *db.DB, runtime *pipeline.Runtime) *ChartServer {
	return &ChartServer{db: database, runtime: runtime}
}

// AttachAdminRoutes attaches the chart endpoints to the given HTTP mux under
// /debug/. These routes are accessible only over localhost/via Tailscale and
// are not publicly accessible.
func (cs *ChartServer) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("charts/trajectory", "scatter of the recorded path colored by speed", cs.handleTrajectoryChart)
	debug.HandleFunc("charts/speed", "linear and angular speed over uptime", cs.handleSpeedChart)
	debug.HandleFunc("plots/trajectory.png", "PNG render of the recorded path", cs.handleTrajectoryPNG)
}

func (cs *ChartServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (cs *ChartServer) resolveRunID(r *http.Request) (string, error) {
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		return runID, nil
	}
	if cs.runtime != nil {
		return cs.runtime.RunID(), nil
	}
	runs, err := cs.db.Runs()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs recorded")
	}
	return runs[0].RunID, nil
}

// loadSamples fetches the samples for the request's run and strides them down
// to the max_points query parameter (default 4000).
func (cs *ChartServer) loadSamples(r *http.Request) (string, []db.PoseSample, error) {
	runID, err := cs.resolveRunID(r)
	if err != nil {
		return "", nil, err
	}

	maxPoints := 4000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 20000 {
			maxPoints = v
		}
	}

	samples, err := cs.db.PoseSamples(runID, sampleFetchLimit)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load samples: %w", err)
	}

	return runID, downsample(samples, maxPoints), nil
}

// downsample strides the sample list down to at most maxPoints entries.
func downsample(samples []db.PoseSample, maxPoints int) []db.PoseSample {
	if len(samples) <= maxPoints {
		return samples
	}
	stride := int(math.Ceil(float64(len(samples)) / float64(maxPoints)))
	out := make([]db.PoseSample, 0, len(samples)/stride+1)
	for i := 0; i < len(samples); i += stride {
		out = append(out, samples[i])
	}
	return out
}

// handleTrajectoryChart renders a quick x/y plot (HTML) of the recorded path
// using go-echarts, with each point colored by its linear speed.
// Query params:
//   - run_id (optional; defaults to the live run)
//   - max_points (optional; default 4000) to reduce payload size
func (cs *ChartServer) handleTrajectoryChart(w http.ResponseWriter, r *http.Request) {
	runID, samples, err := cs.loadSamples(r)
	if err != nil {
		cs.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(samples) == 0 {
		cs.writeJSONError(w, http.StatusNotFound, "no samples recorded for run")
		return
	}

	scatter := TrajectoryChart(samples, fmt.Sprintf("run=%s points=%d", runID, len(samples)))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		cs.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSpeedChart renders the linear and angular body speeds over uptime.
func (cs *ChartServer) handleSpeedChart(w http.ResponseWriter, r *http.Request) {
	runID, samples, err := cs.loadSamples(r)
	if err != nil {
		cs.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(samples) == 0 {
		cs.writeJSONError(w, http.StatusNotFound, "no samples recorded for run")
		return
	}

	line := SpeedChart(samples, fmt.Sprintf("run=%s points=%d", runID, len(samples)))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		cs.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTrajectoryPNG renders the recorded path as a static PNG.
func (cs *ChartServer) handleTrajectoryPNG(w http.ResponseWriter, r *http.Request) {
	runID, samples, err := cs.loadSamples(r)
	if err != nil {
		cs.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(samples) == 0 {
		cs.writeJSONError(w, http.StatusNotFound, "no samples recorded for run")
		return
	}

	tp := NewTrackPlotter(runID, samples)

	var buf bytes.Buffer
	if err := tp.WriteTrajectoryPNG(&buf); err != nil {
		cs.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// TrajectoryChart builds a square dark-theme scatter of the recorded path.
// The third value dimension carries the linear speed for the visual map.
func TrajectoryChart(samples []db.PoseSample, subtitle string) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(samples))
	maxAbs := 0.0
	maxSpeed := 0.0
	for _, s := range samples {
		if math.Abs(s.X) > maxAbs {
			maxAbs = math.Abs(s.X)
		}
		if math.Abs(s.Y) > maxAbs {
			maxAbs = math.Abs(s.Y)
		}
		speed := math.Abs(s.Linear)
		if speed > maxSpeed {
			maxSpeed = speed
		}
		data = append(data, opts.ScatterData{Value: []interface{}{s.X, s.Y, speed}})
	}

	// Add a small padding so points at the edges are visible
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}

	// Force a square plot by using equal width/height and symmetric axis ranges
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Odometry Trajectory", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSpeed),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("pose", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	return scatter
}

// SpeedChart builds a dark-theme line chart of the linear and angular body
// speeds over uptime.
func SpeedChart(samples []db.PoseSample, subtitle string) *charts.Line {
	x := make([]string, 0, len(samples))
	linear := make([]opts.LineData, 0, len(samples))
	angular := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		x = append(x, strconv.FormatFloat(float64(s.UptimeMs)/1000.0, 'f', 2, 64))
		linear = append(linear, opts.LineData{Value: s.Linear})
		angular = append(angular, opts.LineData{Value: s.Angular})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Odometry Speeds", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Body Speeds", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Uptime (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m/s, rad/s"}),
	)
	line.SetXAxis(x).
		AddSeries("linear", linear).
		AddSeries("angular", angular)

	return line
}

// WriteRunReport renders the trajectory and speed charts for one run as a
// single HTML page. Tools use this to produce standalone report files.
func WriteRunReport(w io.Writer, samples []db.PoseSample, subtitle string) error {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(
		TrajectoryChart(samples, subtitle),
		SpeedChart(samples, subtitle),
	)
	return page.Render(w)
}
