package monitor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/odometry.report/internal/db"
)

// RunSummary aggregates one recorded run: how far and how long the vehicle
// drove plus the distribution of its linear speed in m/s.
type RunSummary struct {
	RunID     string
	Samples   int
	Duration  time.Duration
	Distance  float64
	MeanSpeed float64
	StdDev    float64
	P50Speed  float64
	P85Speed  float64
	P98Speed  float64
	MaxSpeed  float64
}

// Summarize computes a RunSummary from pose samples in uptime order. Distance
// accumulates straight-line segments between consecutive poses, so it is a
// slight underestimate on curved paths.
func Summarize(runID string, samples []db.PoseSample) RunSummary {
	s := RunSummary{RunID: runID, Samples: len(samples)}
	if len(samples) == 0 {
		return s
	}

	speeds := make([]float64, 0, len(samples))
	for i, smp := range samples {
		speed := math.Abs(smp.Linear)
		speeds = append(speeds, speed)
		if speed > s.MaxSpeed {
			s.MaxSpeed = speed
		}
		if i > 0 {
			s.Distance += math.Hypot(smp.X-samples[i-1].X, smp.Y-samples[i-1].Y)
		}
	}

	s.Duration = time.Duration(samples[len(samples)-1].UptimeMs-samples[0].UptimeMs) * time.Millisecond
	s.MeanSpeed = stat.Mean(speeds, nil)
	if len(speeds) > 1 {
		s.StdDev = stat.StdDev(speeds, nil)
	}

	// Quantile wants the slice sorted
	sort.Float64s(speeds)
	s.P50Speed = stat.Quantile(0.50, stat.Empirical, speeds, nil)
	s.P85Speed = stat.Quantile(0.85, stat.Empirical, speeds, nil)
	s.P98Speed = stat.Quantile(0.98, stat.Empirical, speeds, nil)

	return s
}

func (s RunSummary) String() string {
	return fmt.Sprintf(
		"run %s: %d samples over %s, %.2fm travelled\n"+
			"  speed m/s: mean=%.3f stddev=%.3f p50=%.3f p85=%.3f p98=%.3f max=%.3f",
		s.RunID, s.Samples, s.Duration, s.Distance,
		s.MeanSpeed, s.StdDev, s.P50Speed, s.P85Speed, s.P98Speed, s.MaxSpeed,
	)
}
