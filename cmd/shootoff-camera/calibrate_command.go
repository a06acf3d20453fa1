package main

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheWiseOptimist/ShootOFF/internal/calibration"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

var errPatternNotFound = errors.New("calibration pattern not found in replay")

// arenaLog stands in for the projector when calibrating recorded frames.
type arenaLog struct{}

func (arenaLog) SetArenaBackground(resource string) {
	logger.Debug("Main", "Arena background -> %q", resource)
}

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var measureDelay bool

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run auto-calibration over a directory of recorded frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Camera.ReplayDir
			}
			if dir == "" {
				return errors.New("no replay directory (use --dir or camera.replay_dir)")
			}

			res, frames, err := calibrateReplay(dir, cfg.Camera.FPS, cfg.CalibrationConfig(), measureDelay)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(resultRows(res, frames)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory of PNG or JPEG frames")
	cmd.Flags().BoolVar(&measureDelay, "delay", false, "Measure the frame delay (needs a recorded arena blank)")
	return cmd
}

// calibrateReplay feeds every frame of dir to a fresh engine until it
// reports a result. It returns the number of frames consumed.
func calibrateReplay(dir string, fps float64, cfg calibration.Config, measureDelay bool) (calibration.Result, int, error) {
	replay, err := newReplay(dir, fps, false)
	if err != nil {
		return calibration.Result{}, 0, err
	}
	defer replay.Close()
	replay.Open(image.Point{})

	interval := time.Second / 30
	if fps > 0 {
		interval = time.Duration(float64(time.Second) / fps)
	}

	engine := calibration.New(cfg, arenaLog{})
	var result *calibration.Result
	engine.Start(measureDelay, func(r calibration.Result) { result = &r })

	start := time.Unix(0, 0)
	frames := 0
	for replay.Len() > frames {
		img := replay.GetFrame()
		if img == nil {
			break
		}
		f := types.NewFrame(img, start.Add(time.Duration(frames)*interval), uint64(frames))
		frames++
		engine.ProcessFrame(f)
		if result != nil {
			return *result, frames, nil
		}
	}

	if bounds, ok := engine.Bounds(); ok {
		// The primary stage succeeded but the replay ended before the
		// remaining stages completed.
		return calibration.Result{
			Bounds:      bounds,
			Paper:       engine.PaperDimensions(),
			FrameDelay:  engine.FrameDelay(),
			DelayProbed: engine.DelayProbed(),
		}, frames, nil
	}
	return calibration.Result{}, frames, fmt.Errorf("%w (%d frames)", errPatternNotFound, frames)
}

func resultRows(res calibration.Result, frames int) [][2]string {
	rows := [][2]string{
		{"Frames", fmt.Sprintf("%d", frames)},
		{"Bounds", res.Bounds.String()},
	}
	if res.Paper != nil {
		rows = append(rows, [2]string{"Paper", fmt.Sprintf("%.1f x %.1f", res.Paper.Width, res.Paper.Height)})
	} else {
		rows = append(rows, [2]string{"Paper", "not found"})
	}
	switch {
	case res.FrameDelay.Measured():
		rows = append(rows, [2]string{"Frame delay", res.FrameDelay.Duration().String()})
	case res.DelayProbed:
		rows = append(rows, [2]string{"Frame delay", "no change observed"})
	default:
		rows = append(rows, [2]string{"Frame delay", "not measured"})
	}
	return rows
}
