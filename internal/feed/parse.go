package feed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/odometry.report/internal/steering"
)

const (
	EventTypeFrame   = "wheel_frame"
	EventTypeAck     = "ack"
	EventTypeConfig  = "config"
	EventTypeUnknown = "unknown"
)

// Classify inspects a payload string and returns a simple event type token.
// Acknowledgements and config reports have fixed prefixes; a frame is any
// line with a leading integer uptime and a frame-shaped field count. The
// check is deliberately shallow so that a corrupt value inside an otherwise
// frame-shaped line still classifies as a frame and surfaces its parse
// error, rather than being dropped as unknown.
func Classify(payload string) string {
	if strings.HasPrefix(payload, "ok:") || strings.HasPrefix(payload, "err:") {
		return EventTypeAck
	}
	if strings.HasPrefix(payload, "{") {
		return EventTypeConfig
	}
	fields := strings.Split(strings.TrimSpace(payload), ",")
	switch len(fields) {
	case 3, 4, 5, 7:
		if _, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64); err == nil {
			return EventTypeFrame
		}
	}
	return EventTypeUnknown
}

// Frame is one telemetry line from the wheel controller: the controller
// uptime in milliseconds followed by the wheel feedback values. Whether the
// traction values are rates or cumulative angles is a controller setting the
// frame itself does not carry, so Feedback.Positions is left for the caller.
type Frame struct {
	Uptime   int64
	Feedback steering.Feedback
}

// ParseFrame parses a comma-separated telemetry line. The field count selects
// the feedback shape:
//
//	3  uptime,traction,steer
//	4  uptime,right,left,steer
//	5  uptime,right,left,rightSteer,leftSteer
//	7  uptime,fr,fl,rr,rl,frontSteer,rearSteer
func ParseFrame(line string) (Frame, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")

	uptime, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid uptime field %q: %w", fields[0], err)
	}
	if uptime < 0 {
		return Frame{}, fmt.Errorf("negative uptime %d", uptime)
	}

	values := make([]float64, len(fields)-1)
	for i, field := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid frame field %q: %w", field, err)
		}
		values[i] = v
	}

	frame := Frame{Uptime: uptime}
	switch len(fields) {
	case 3:
		frame.Feedback.Shape = steering.SingleTractionSteer
		frame.Feedback.Traction[0] = values[0]
		frame.Feedback.Steer[0] = values[1]
	case 4:
		frame.Feedback.Shape = steering.DualTractionSteer
		frame.Feedback.Traction[0] = values[0]
		frame.Feedback.Traction[1] = values[1]
		frame.Feedback.Steer[0] = values[2]
	case 5:
		frame.Feedback.Shape = steering.DualTractionDualSteer
		frame.Feedback.Traction[0] = values[0]
		frame.Feedback.Traction[1] = values[1]
		frame.Feedback.Steer[0] = values[2]
		frame.Feedback.Steer[1] = values[3]
	case 7:
		frame.Feedback.Shape = steering.FourIndependent
		frame.Feedback.Traction[0] = values[0]
		frame.Feedback.Traction[1] = values[1]
		frame.Feedback.Traction[2] = values[2]
		frame.Feedback.Traction[3] = values[3]
		frame.Feedback.Steer[0] = values[4]
		frame.Feedback.Steer[1] = values[5]
	default:
		return Frame{}, fmt.Errorf("unexpected field count %d in frame %q", len(fields), line)
	}

	return frame, nil
}

// Encode renders the frame in the controller wire format. It is the inverse
// of ParseFrame and is used by the synthetic controller and the simulator.
func (f Frame) Encode() (string, error) {
	num := func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	switch f.Feedback.Shape {
	case steering.SingleTractionSteer:
		return fmt.Sprintf("%d,%s,%s", f.Uptime,
			num(f.Feedback.Traction[0]), num(f.Feedback.Steer[0])), nil
	case steering.DualTractionSteer:
		return fmt.Sprintf("%d,%s,%s,%s", f.Uptime,
			num(f.Feedback.Traction[0]), num(f.Feedback.Traction[1]),
			num(f.Feedback.Steer[0])), nil
	case steering.DualTractionDualSteer:
		return fmt.Sprintf("%d,%s,%s,%s,%s", f.Uptime,
			num(f.Feedback.Traction[0]), num(f.Feedback.Traction[1]),
			num(f.Feedback.Steer[0]), num(f.Feedback.Steer[1])), nil
	case steering.FourIndependent:
		return fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s", f.Uptime,
			num(f.Feedback.Traction[0]), num(f.Feedback.Traction[1]),
			num(f.Feedback.Traction[2]), num(f.Feedback.Traction[3]),
			num(f.Feedback.Steer[0]), num(f.Feedback.Steer[1])), nil
	}
	return "", fmt.Errorf("cannot encode feedback shape %v", f.Feedback.Shape)
}
