package monitor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/odometry.report/internal/db"
)

func plotterSamples() []db.PoseSample {
	return []db.PoseSample{
		{RunID: "plot-run", UptimeMs: 0, X: 0, Y: 0, Linear: 0, Angular: 0},
		{RunID: "plot-run", UptimeMs: 1000, X: 1, Y: 0, Linear: 1, Angular: 0.1},
		{RunID: "plot-run", UptimeMs: 2000, X: 2, Y: 1, Linear: 1.5, Angular: 0.2},
	}
}

func TestTrajectoryPlot(t *testing.T) {
	tp := NewTrackPlotter("plot-run", plotterSamples())

	p, err := tp.TrajectoryPlot()
	if err != nil {
		t.Fatalf("TrajectoryPlot failed: %v", err)
	}
	if p == nil {
		t.Fatal("TrajectoryPlot returned nil plot")
	}
	if !strings.Contains(p.Title.Text, "plot-run") {
		t.Errorf("expected title to name the run, got %q", p.Title.Text)
	}
}

func TestTrajectoryPlot_NoSamples(t *testing.T) {
	tp := NewTrackPlotter("empty", nil)

	if _, err := tp.TrajectoryPlot(); err == nil {
		t.Error("expected error for empty sample set")
	}
	if _, err := tp.SpeedProfilePlot(); err == nil {
		t.Error("expected error for empty sample set")
	}
}

func TestSavePlots(t *testing.T) {
	tp := NewTrackPlotter("plot-run", plotterSamples())
	outputDir := filepath.Join(t.TempDir(), "report")

	files, err := tp.SavePlots(outputDir)
	if err != nil {
		t.Fatalf("SavePlots failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}

	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			t.Errorf("expected %s to exist: %v", f, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("expected %s to be non-empty", f)
		}
	}
}

func TestWriteTrajectoryPNG(t *testing.T) {
	tp := NewTrackPlotter("plot-run", plotterSamples())

	var buf bytes.Buffer
	if err := tp.WriteTrajectoryPNG(&buf); err != nil {
		t.Fatalf("WriteTrajectoryPNG failed: %v", err)
	}

	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("expected PNG magic bytes at start of output")
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)
	if got := FormatTimestamp(ts); got != "20260826_103000" {
		t.Errorf("expected 20260826_103000, got %s", got)
	}
}

func TestMakePlotOutputDir(t *testing.T) {
	withLabel := MakePlotOutputDir("plots", "sim")
	if !strings.HasPrefix(withLabel, filepath.Join("plots", "sim")) {
		t.Errorf("expected dir under plots/sim, got %s", withLabel)
	}

	noLabel := MakePlotOutputDir("plots", "")
	if strings.Contains(strings.TrimPrefix(noLabel, "plots"+string(filepath.Separator)), string(filepath.Separator)) {
		t.Errorf("expected single level under plots, got %s", noLabel)
	}
}
