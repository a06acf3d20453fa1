package types

import "time"

// FrameDelay is the measured projector-to-camera latency in milliseconds.
type FrameDelay int64

// FrameDelayUnmeasured is reported when no measurement was requested or
// no luminance change was observed inside the measurement window. The
// calibration result's DelayProbed flag tells the two apart.
const FrameDelayUnmeasured FrameDelay = -1

// Measured reports whether d holds a real measurement.
func (d FrameDelay) Measured() bool {
	return d >= 0
}

// Duration converts a measured delay; unmeasured delays are zero.
func (d FrameDelay) Duration() time.Duration {
	if !d.Measured() {
		return 0
	}
	return time.Duration(d) * time.Millisecond
}
