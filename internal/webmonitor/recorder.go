package webmonitor

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// recordingState tracks the stream recording started from the web API.
type recordingState struct {
	mu        sync.Mutex
	dir       string
	recording bool
	filepath  string
	startedAt time.Time
}

func newRecordingState(dir string) *recordingState {
	return &recordingState{dir: dir}
}

// Start begins a stream recording on cam and returns the output filename.
func (r *recordingState) Start(cam Camera, filename string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if filename == "" {
		filename = fmt.Sprintf("recording_%s.mjpeg", time.Now().Format("20060102_150405"))
	}
	path := filepath.Join(r.dir, filepath.Base(filename))

	if err := cam.StartStreamRecording(path); err != nil {
		return "", err
	}
	r.filepath = path
	r.recording = true
	r.startedAt = time.Now()
	return path, nil
}

// Stop ends the recording and returns the output filename.
func (r *recordingState) Stop(cam Camera) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := cam.StopStreamRecording(); err != nil {
		return "", err
	}
	r.recording = false
	return r.filepath, nil
}

// Status returns the recorder status payload.
func (r *recordingState) Status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var filename any
	if r.filepath != "" {
		filename = r.filepath
	}
	status := map[string]any{
		"recording": r.recording,
		"filename":  filename,
	}
	if r.recording {
		status["duration"] = time.Since(r.startedAt).Seconds()
	}
	return status
}
