package camera

import (
	"fmt"
	"sync"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

// boundsCell holds the optional projection bounds. Readers take a copy so
// a cycle sees one consistent value.
type boundsCell struct {
	mu  sync.RWMutex
	b   types.Bounds
	set bool
}

func (c *boundsCell) Get() (types.Bounds, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.b, c.set
}

func (c *boundsCell) Set(b types.Bounds) {
	c.mu.Lock()
	c.b, c.set = b, true
	c.mu.Unlock()
}

func (c *boundsCell) Clear() {
	c.mu.Lock()
	c.b, c.set = types.Bounds{}, false
	c.mu.Unlock()
}

// SetProjectionBounds sets the projection area in camera pixels.
func (m *Manager) SetProjectionBounds(b types.Bounds) {
	logger.Info(module, "Projection bounds for %s set to %s", m.Name(), b)
	m.bounds.Set(b)
}

// ClearProjectionBounds removes the projection area.
func (m *Manager) ClearProjectionBounds() {
	m.bounds.Clear()
}

// frameBounds returns the projection area clipped to f. Bounds that miss
// the frame entirely are reported as unset.
func (m *Manager) frameBounds(f *types.Frame) (types.Bounds, bool) {
	b, ok := m.bounds.Get()
	if !ok {
		return b, false
	}
	b = b.Clip(f.Width(), f.Height())
	return b, !b.IsZero()
}

// ProjectionBounds returns the projection area if one is set.
func (m *Manager) ProjectionBounds() (types.Bounds, bool) {
	return m.bounds.Get()
}

// SetSectorStatuses replaces the detection sector grid. The grid must have
// the configured number of rows and columns.
func (m *Manager) SetSectorStatuses(grid [][]bool) error {
	if len(grid) != m.opts.SectorRows {
		return fmt.Errorf("%w: %d rows, want %d", ErrSectorGrid, len(grid), m.opts.SectorRows)
	}
	cp := make([][]bool, len(grid))
	for r, row := range grid {
		if len(row) != m.opts.SectorCols {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrSectorGrid, r, len(row), m.opts.SectorCols)
		}
		cp[r] = append([]bool(nil), row...)
	}
	m.sectors.Store(&cp)
	return nil
}

// SectorStatuses returns a copy of the sector grid.
func (m *Manager) SectorStatuses() [][]bool {
	grid := *m.sectors.Load()
	cp := make([][]bool, len(grid))
	for r, row := range grid {
		cp[r] = append([]bool(nil), row...)
	}
	return cp
}

// IsSectorOn reports whether detection is enabled in a sector. Out of range
// sectors are off.
func (m *Manager) IsSectorOn(row, col int) bool {
	grid := *m.sectors.Load()
	if row < 0 || row >= len(grid) || col < 0 || col >= len(grid[row]) {
		return false
	}
	return grid[row][col]
}

// SectorGridSize returns the sector grid dimensions.
func (m *Manager) SectorGridSize() (rows, cols int) {
	return m.opts.SectorRows, m.opts.SectorCols
}
