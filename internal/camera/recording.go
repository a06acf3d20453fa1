package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

// StartStreamRecording records the displayed feed to path. When the feed is
// cropped to the projection the recording has the projection size.
func (m *Manager) StartStreamRecording(path string) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	if m.stream != nil {
		return ErrAlreadyRecording
	}
	size := m.FeedSize()
	if b, ok := m.bounds.Get(); ok && m.cropFeed.Load() {
		size.X, size.Y = b.Width, b.Height
	}
	rec, err := m.startRecorder(path, size.X, size.Y)
	if err != nil {
		return err
	}
	m.stream = &streamRecording{rec: rec, start: m.clock.Now(), first: true}
	logger.Info(module, "Stream recording started: %s (%dx%d)", path, size.X, size.Y)
	return nil
}

// StopStreamRecording finalizes the stream recording.
func (m *Manager) StopStreamRecording() error {
	m.recMu.Lock()
	s := m.stream
	m.stream = nil
	m.recMu.Unlock()

	if s == nil {
		return ErrNotRecording
	}
	if err := s.rec.Close(); err != nil {
		return fmt.Errorf("close stream recording: %w", err)
	}
	logger.Info(module, "Stream recording stopped")
	return nil
}

// IsRecordingStream reports whether a stream recording is active.
func (m *Manager) IsRecordingStream() bool {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	return m.stream != nil
}

// StartCalibratedAreaRecording records the undistorted projection area.
func (m *Manager) StartCalibratedAreaRecording(path string) error {
	b, ok := m.bounds.Get()
	if !ok {
		return ErrNotCalibrated
	}

	m.recMu.Lock()
	defer m.recMu.Unlock()
	if m.calibrated != nil {
		return ErrAlreadyRecording
	}
	rec, err := m.startRecorder(path, b.Width, b.Height)
	if err != nil {
		return err
	}
	m.calibrated = &streamRecording{rec: rec, start: m.clock.Now(), first: true}
	logger.Info(module, "Calibrated-area recording started: %s (%dx%d)", path, b.Width, b.Height)
	return nil
}

func (m *Manager) stopCalibratedAreaRecording() error {
	m.recMu.Lock()
	s := m.calibrated
	m.calibrated = nil
	m.recMu.Unlock()
	if s == nil {
		return nil
	}
	return s.rec.Close()
}

func (m *Manager) startRecorder(path string, w, h int) (StreamRecorder, error) {
	if m.opts.NewStreamRecorder == nil {
		return nil, ErrNoRecorder
	}
	rec := m.opts.NewStreamRecorder()
	if err := rec.Start(path, w, h); err != nil {
		return nil, fmt.Errorf("start recording %s: %w", path, err)
	}
	return rec, nil
}

func (m *Manager) encodeStream(f *types.Frame, now time.Time) {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	if m.stream == nil {
		return
	}
	m.encode(m.stream, f, now)
}

func (m *Manager) encodeCalibratedArea(f *types.Frame, now time.Time) {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	if m.calibrated == nil {
		return
	}
	m.encode(m.calibrated, f, now)
}

// encode must be called with recMu held.
func (m *Manager) encode(s *streamRecording, f *types.Frame, now time.Time) {
	ts := now.Sub(s.start).Microseconds()
	keyframe := s.first
	s.first = false
	if err := s.rec.Encode(f, ts, keyframe); err != nil {
		logger.Warn(module, "Encode frame %d: %v", f.Number, err)
		if m.metrics != nil {
			m.metrics.StreamEncodeErrors.Add(1)
		}
		return
	}
	if m.metrics != nil {
		m.metrics.StreamFramesEncoded.Add(1)
	}
}

// StartRecordingShots begins keeping a rolling buffer in rolling. Every
// subsequent shot forks a clip from it.
func (m *Manager) StartRecordingShots(rolling ClipRecorder) error {
	if rolling == nil {
		return errors.New("camera: nil rolling recorder")
	}
	m.recMu.Lock()
	defer m.recMu.Unlock()
	if m.rolling != nil {
		return ErrAlreadyRecording
	}
	m.rolling = rolling
	m.recordingShots.Store(true)
	logger.Info(module, "Shot recording started for %s", m.Name())
	return nil
}

// StopRecordingShots closes every in-flight clip and the rolling recorder.
func (m *Manager) StopRecordingShots() error {
	m.recMu.Lock()
	rolling := m.rolling
	m.rolling = nil
	m.recordingShots.Store(false)
	m.recMu.Unlock()

	if rolling == nil {
		return ErrNotRecording
	}

	var err error
	m.clips.Range(func(k, v any) bool {
		m.clips.Delete(k)
		if e := v.(ClipRecorder).Close(); e != nil {
			err = errors.Join(err, e)
		}
		m.clipClosed()
		return true
	})
	if e := rolling.Close(); e != nil {
		err = errors.Join(err, e)
	}
	logger.Info(module, "Shot recording stopped for %s", m.Name())
	return err
}

// ActiveClips returns the number of shot clips still recording.
func (m *Manager) ActiveClips() int {
	n := 0
	m.clips.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *Manager) recordShotFrame(f *types.Frame) {
	m.recMu.Lock()
	rolling := m.rolling
	m.recMu.Unlock()
	if rolling == nil {
		return
	}
	rolling.RecordFrame(f)

	m.clips.Range(func(k, v any) bool {
		clip := v.(ClipRecorder)
		if clip.IsComplete() {
			m.clips.Delete(k)
			if err := clip.Close(); err != nil {
				logger.Warn(module, "Close shot clip: %v", err)
			}
			m.clipClosed()
			return true
		}
		clip.RecordFrame(f)
		return true
	})
}

func (m *Manager) clipClosed() {
	if m.metrics != nil {
		m.metrics.ClipsActive.Add(-1)
		m.metrics.ClipsWritten.Add(1)
	}
}
