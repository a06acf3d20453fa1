package calibration

import "time"

// Config holds the pattern geometry and measurement thresholds.
type Config struct {
	// Inner corners of the calibration board.
	PatternCols int
	PatternRows int

	// White border around the printed squares, as a fraction of a square.
	BorderFactor float64

	// Printer margins added to the estimated paper size.
	PaperMarginWidth  float64
	PaperMarginHeight float64

	// A paper pattern must be smaller than this fraction of the frame
	// in both axes.
	PaperMaxFraction float64

	// Frames spent looking for the paper pattern.
	SecondaryAttempts int

	// Frame delay probe: the reference pixel must drop below
	// DelayThreshold of its initial value within DelayWindow.
	DelayWindow    time.Duration
	DelayThreshold float64

	// Divisor applied to frame area to size the corner search window.
	CornerSearchDivisor int
}

// DefaultConfig returns the values used with the stock 9x6 board.
func DefaultConfig() Config {
	return Config{
		PatternCols:         9,
		PatternRows:         6,
		BorderFactor:        0.065476,
		PaperMarginWidth:    1.048,
		PaperMarginHeight:   1.063,
		PaperMaxFraction:    0.25,
		SecondaryAttempts:   2,
		DelayWindow:         250 * time.Millisecond,
		DelayThreshold:      0.9,
		CornerSearchDivisor: 19200,
	}
}
