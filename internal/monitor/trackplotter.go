package monitor

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/odometry.report/internal/db"
)

// TrackPlotter renders recorded pose samples as static PNG plots for run
// reports and the debug surface.
type TrackPlotter struct {
	runID   string
	samples []db.PoseSample
}

func NewTrackPlotter(runID string, samples []db.PoseSample) *TrackPlotter {
	return &TrackPlotter{runID: runID, samples: samples}
}

// TrajectoryPlot builds an x/y plot of the integrated path with the starting
// pose marked.
func (tp *TrackPlotter) TrajectoryPlot() (*plot.Plot, error) {
	if len(tp.samples) == 0 {
		return nil, fmt.Errorf("no samples to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory (run %s)", tp.runID)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pts := make(plotter.XYs, 0, len(tp.samples))
	for _, s := range tp.samples {
		pts = append(pts, plotter.XY{X: s.X, Y: s.Y})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("path", line)

	start, err := plotter.NewScatter(plotter.XYs{{X: tp.samples[0].X, Y: tp.samples[0].Y}})
	if err != nil {
		return nil, err
	}
	start.Color = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	start.Radius = vg.Points(4)
	p.Add(start)
	p.Legend.Add("start", start)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// SpeedProfilePlot builds the linear and angular speeds over uptime.
func (tp *TrackPlotter) SpeedProfilePlot() (*plot.Plot, error) {
	if len(tp.samples) == 0 {
		return nil, fmt.Errorf("no samples to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Speed profile (run %s)", tp.runID)
	p.X.Label.Text = "Uptime (s)"
	p.Y.Label.Text = "m/s, rad/s"

	linearPts := make(plotter.XYs, 0, len(tp.samples))
	angularPts := make(plotter.XYs, 0, len(tp.samples))
	for _, s := range tp.samples {
		tsec := float64(s.UptimeMs) / 1000.0
		linearPts = append(linearPts, plotter.XY{X: tsec, Y: s.Linear})
		angularPts = append(angularPts, plotter.XY{X: tsec, Y: s.Angular})
	}

	linearLine, err := plotter.NewLine(linearPts)
	if err != nil {
		return nil, err
	}
	linearLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	linearLine.Width = vg.Points(1)
	p.Add(linearLine)
	p.Legend.Add("linear (m/s)", linearLine)

	angularLine, err := plotter.NewLine(angularPts)
	if err != nil {
		return nil, err
	}
	angularLine.Color = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	angularLine.Width = vg.Points(1)
	p.Add(angularLine)
	p.Legend.Add("angular (rad/s)", angularLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// SavePlots writes trajectory.png and speed_profile.png under outputDir,
// creating the directory if needed, and returns the file paths written.
func (tp *TrackPlotter) SavePlots(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	traj, err := tp.TrajectoryPlot()
	if err != nil {
		return nil, err
	}
	trajFile := filepath.Join(outputDir, "trajectory.png")
	if err := traj.Save(8*vg.Inch, 8*vg.Inch, trajFile); err != nil {
		return nil, fmt.Errorf("save trajectory plot: %w", err)
	}

	speed, err := tp.SpeedProfilePlot()
	if err != nil {
		return nil, err
	}
	speedFile := filepath.Join(outputDir, "speed_profile.png")
	if err := speed.Save(14*vg.Inch, 6*vg.Inch, speedFile); err != nil {
		return nil, fmt.Errorf("save speed profile plot: %w", err)
	}

	return []string{trajFile, speedFile}, nil
}

// WriteTrajectoryPNG renders the trajectory plot as PNG to w.
func (tp *TrackPlotter) WriteTrajectoryPNG(w io.Writer) error {
	p, err := tp.TrajectoryPlot()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns a timestamped output directory for run reports,
// e.g. plots/<label>/20260826_103000. An empty label drops that level.
func MakePlotOutputDir(baseDir, label string) string {
	ts := FormatTimestamp(time.Now())
	if label != "" {
		return filepath.Join(baseDir, label, ts)
	}
	return filepath.Join(baseDir, ts)
}
