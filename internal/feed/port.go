package feed

import (
	"io"
	"time"
)

// TelemetryPort defines the minimal interface needed for a wheel-controller
// link. This abstraction enables unit testing without real hardware.
type TelemetryPort interface {
	io.ReadWriter
	io.Closer
}

// TimeoutTelemetryPort extends TelemetryPort with timeout capabilities.
// This is an optional interface that ports may implement.
type TimeoutTelemetryPort interface {
	TelemetryPort
	// SetReadTimeout sets the read timeout for the port.
	SetReadTimeout(timeout time.Duration) error
}
