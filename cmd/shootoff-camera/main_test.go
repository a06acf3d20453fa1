package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheWiseOptimist/ShootOFF/internal/config"
	"github.com/TheWiseOptimist/ShootOFF/internal/calibration"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "camera.toml")

	out, err := execute(t, "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.SampleConfig(), string(data))

	_, err = execute(t, "config", "init", "--path", path)
	assert.Error(t, err, "existing file is not overwritten")
}

func TestPatternCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.png")

	_, err := execute(t, "pattern", "--output", path, "--width", "320", "--height", "240", "--log-level", "silent")
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(320, 240), img.Bounds().Size())
}

func TestPatternCommandRejectsBadSize(t *testing.T) {
	_, err := execute(t, "pattern", "--width", "0", "--log-level", "silent")
	assert.Error(t, err)
}

func TestCalibrateReportsMissingPattern(t *testing.T) {
	dir := t.TempDir()
	blank := image.NewRGBA(image.Rect(0, 0, 64, 48))
	writeFrame(t, filepath.Join(dir, "000.png"), blank)

	_, err := execute(t, "calibrate", "--dir", dir, "--log-level", "silent")
	assert.ErrorIs(t, err, errPatternNotFound)
}

func TestCalibrateRequiresDirectory(t *testing.T) {
	_, err := execute(t, "calibrate", "--log-level", "silent")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "replay directory"))
}

func TestResultRows(t *testing.T) {
	res := calibration.Result{
		Bounds:     types.Bounds{MinX: 10, MinY: 20, Width: 300, Height: 200},
		Paper:      &types.Dimension{Width: 80, Height: 60},
		FrameDelay: types.FrameDelay(120),
	}
	rows := resultRows(res, 7)
	require.Len(t, rows, 4)
	assert.Equal(t, [2]string{"Frames", "7"}, rows[0])
	assert.Equal(t, [2]string{"Paper", "80.0 x 60.0"}, rows[2])
	assert.Equal(t, [2]string{"Frame delay", "120ms"}, rows[3])

	rows = resultRows(calibration.Result{FrameDelay: types.FrameDelayUnmeasured}, 1)
	assert.Equal(t, "not found", rows[2][1])
	assert.Equal(t, "not measured", rows[3][1])

	rows = resultRows(calibration.Result{FrameDelay: types.FrameDelayUnmeasured, DelayProbed: true}, 1)
	assert.Equal(t, "no change observed", rows[3][1])

	out := renderKeyValues(rows)
	assert.Contains(t, out, "Frame delay")
}

func TestUseColor(t *testing.T) {
	assert.True(t, useColor("always"))
	assert.False(t, useColor("never"))
}

func writeFrame(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}
