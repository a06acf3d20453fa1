package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundsClip(t *testing.T) {
	tests := []struct {
		name string
		in   Bounds
		want Bounds
	}{
		{"inside", Bounds{MinX: 10, MinY: 10, Width: 50, Height: 40}, Bounds{MinX: 10, MinY: 10, Width: 50, Height: 40}},
		{"negative origin", Bounds{MinX: -20, MinY: -10, Width: 200, Height: 100}, Bounds{Width: 180, Height: 90}},
		{"past far edge", Bounds{MinX: 600, MinY: 450, Width: 100, Height: 100}, Bounds{MinX: 600, MinY: 450, Width: 40, Height: 30}},
		{"outside", Bounds{MinX: 700, MinY: 10, Width: 10, Height: 10}, Bounds{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Clip(640, 480))
		})
	}
}
