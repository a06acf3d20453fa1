package camera

import (
	"image/color"
	"sync"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/timeutil"
)

// diagnostic is a debounced overlay message. Each show restarts the
// removal timer; the message is added to the view only when it is not
// already displayed.
type diagnostic struct {
	text  string
	color color.Color

	mu     sync.Mutex
	shown  bool
	handle DiagnosticHandle
	timer  timeutil.Timer
	gen    uint64
	view   View
}

func newDiagnostic(text string, c color.Color) *diagnostic {
	return &diagnostic{text: text, color: c}
}

func (d *diagnostic) show(view View, clock timeutil.Clock, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	if !d.shown {
		d.handle = view.AddDiagnosticMessage(d.text, d.color)
		d.view = view
		d.shown = true
	}

	d.gen++
	gen := d.gen
	d.timer = clock.AfterFunc(dur, func() { d.expire(gen) })
}

// expire removes the message unless a later show superseded this timer.
func (d *diagnostic) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || !d.shown {
		return
	}
	d.view.RemoveDiagnosticMessage(d.handle)
	d.shown = false
	d.timer = nil
}

func (d *diagnostic) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	if d.shown {
		d.view.RemoveDiagnosticMessage(d.handle)
		d.shown = false
	}
}

// ShowBrightnessWarning displays the excessive brightness message for the
// diagnostic duration. The first warning is also sent to the ErrorView.
func (m *Manager) ShowBrightnessWarning() {
	m.brightness.show(m.view, m.clock, m.opts.DiagnosticDuration)
	if m.metrics != nil {
		m.metrics.DiagnosticsShown.Add(1)
	}
	if !m.warnedBrightness.Swap(true) {
		logger.Warn(module, "Excessive brightness on %s", m.Name())
		if m.errorView != nil {
			m.errorView.ShowBrightnessWarning(m.Name())
		}
	}
}

// ShowMotionWarning displays the excessive motion message for the
// diagnostic duration.
func (m *Manager) ShowMotionWarning() {
	m.motion.show(m.view, m.clock, m.opts.DiagnosticDuration)
	if m.metrics != nil {
		m.metrics.DiagnosticsShown.Add(1)
	}
}
