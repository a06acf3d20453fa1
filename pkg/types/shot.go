package types

import (
	"time"

	"github.com/google/uuid"
)

// ShotColor tags the laser color of a detected shot.
type ShotColor int

const (
	ShotRed ShotColor = iota
	ShotGreen
	ShotInfrared
)

var shotColorNames = map[ShotColor]string{
	ShotRed:      "red",
	ShotGreen:    "green",
	ShotInfrared: "infrared",
}

// String returns the lowercase color name.
func (c ShotColor) String() string {
	if name, ok := shotColorNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseShotColor is the inverse of String.
func ParseShotColor(s string) (ShotColor, bool) {
	for c, name := range shotColorNames {
		if name == s {
			return c, true
		}
	}
	return ShotRed, false
}

// Shot is one detected (or injected) hit.
type Shot struct {
	ID        uuid.UUID `json:"id"`
	Color     ShotColor `json:"color"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp int64     `json:"timestamp"` // Milliseconds on the pipeline clock
	Injected  bool      `json:"injected"`
}

// NewShot creates a shot with a fresh identity.
func NewShot(c ShotColor, x, y float64, t time.Time) Shot {
	return Shot{ID: uuid.New(), Color: c, X: x, Y: y, Timestamp: t.UnixMilli()}
}
