package main

import (
	"fmt"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/config"
	"github.com/TheWiseOptimist/ShootOFF/internal/device"
	"github.com/TheWiseOptimist/ShootOFF/internal/device/shm"
	"github.com/TheWiseOptimist/ShootOFF/internal/device/webcam"
)

func newDevice(cfg config.Camera) (camera.DeviceSource, error) {
	switch cfg.Kind {
	case "webcam":
		return webcam.New(cfg.Index, cfg.FPS), nil
	case "shm":
		return shm.NewReader(cfg.ShmName), nil
	case "replay":
		return newReplay(cfg.ReplayDir, cfg.FPS, cfg.ReplayLoop)
	default:
		return nil, fmt.Errorf("unknown camera kind %q", cfg.Kind)
	}
}

func newReplay(dir string, fps float64, loop bool) (*device.Replay, error) {
	interval := time.Second / 30
	if fps > 0 {
		interval = time.Duration(float64(time.Second) / fps)
	}
	return device.NewReplay(dir, device.ReplayOptions{Interval: interval, Loop: loop})
}
