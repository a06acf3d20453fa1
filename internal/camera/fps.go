package camera

import (
	"math"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
)

// fpsState is only touched by the acquisition goroutine.
type fpsState struct {
	lastMs    int64
	lastCount uint64
}

// FPS returns the smoothed frame rate estimate.
func (m *Manager) FPS() float64 {
	return math.Float64frombits(m.fpsBits.Load())
}

func (m *Manager) setFPSValue(fps float64) {
	m.fpsBits.Store(math.Float64bits(fps))
	if m.metrics != nil {
		m.metrics.SetFPS(fps)
	}
}

func (m *Manager) estimateFPS(now time.Time) {
	nowMs := now.UnixMilli()
	count := m.FrameCount()

	if m.fps.lastMs > -1 {
		dt := float64(nowMs-m.fps.lastMs) / 1000
		if dt > 0 {
			m.setFPS(float64(count-m.fps.lastCount)/dt, count)
		}
	}
	m.fps.lastMs = nowMs
	m.fps.lastCount = count

	if count > 2*DefaultFPS {
		m.checkMinimumFPS()
	}
}

// setFPS smooths new samples once enough frames have gone by for the
// estimate to be stable.
func (m *Manager) setFPS(sample float64, count uint64) {
	if float64(count) > DefaultFPS {
		m.setFPSValue((m.FPS()*4 + sample) / 5)
		return
	}
	m.setFPSValue(sample)
}

func (m *Manager) checkMinimumFPS() {
	fps := m.FPS()
	if fps >= MinimumFPS || m.warnedFPS.Swap(true) {
		return
	}
	logger.Warn(module, "Camera %s is running at %.1f FPS, below the %.0f FPS minimum", m.Name(), fps, MinimumFPS)
	if m.errorView != nil {
		m.errorView.ShowFPSWarning(m.Name(), fps)
	}
}
