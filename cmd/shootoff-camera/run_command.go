package main

import (
	"context"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/config"
	"github.com/TheWiseOptimist/ShootOFF/internal/detect"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
	"github.com/TheWiseOptimist/ShootOFF/internal/recorder"
	"github.com/TheWiseOptimist/ShootOFF/internal/webmonitor"
	"github.com/TheWiseOptimist/ShootOFF/internal/webrtc"
)

const maxWebRTCClients = 4

func newRunCommand(ctx *commandContext) *cobra.Command {
	var listen string
	var autoCalibrate bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream the camera and serve the web monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Web.Listen = listen
			}
			if autoCalibrate {
				cfg.Calibration.AutoStart = true
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(runCtx, cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address override")
	cmd.Flags().BoolVar(&autoCalibrate, "calibrate", false, "Start auto-calibration once streaming")
	return cmd
}

func monitorConfig(cfg *config.Config) webmonitor.Config {
	wcfg := webmonitor.DefaultConfig()
	wcfg.Addr = cfg.Web.Listen
	if cfg.Web.MJPEGFPS > 0 {
		wcfg.MJPEGInterval = time.Second / time.Duration(cfg.Web.MJPEGFPS)
	}
	wcfg.PreviewWidth = cfg.Web.PreviewWidth
	wcfg.EventBuffer = cfg.Web.EventBuffer
	wcfg.RecordingDir = cfg.Recording.Dir
	wcfg.CalculateFrameDelay = cfg.Calibration.CalculateFrameDelay
	wcfg.PatternCols = cfg.Calibration.PatternCols
	wcfg.PatternRows = cfg.Calibration.PatternRows
	wcfg.BorderFactor = cfg.Calibration.BorderFactor
	return wcfg
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	dev, err := newDevice(cfg.Camera)
	if err != nil {
		return err
	}

	monitor := webmonitor.NewMonitor(monitorConfig(cfg), m)
	detector := detect.New(cfg.Detection.Thresholds)

	w, h := cfg.FeedSize()
	quality := cfg.Recording.JPEGQuality
	mgr, err := camera.New(camera.Options{
		Device:             dev,
		Detector:           detector,
		View:               monitor,
		ErrorView:          monitor,
		Listener:           monitor,
		CalibrationConfig:  cfg.CalibrationConfig(),
		NewStreamRecorder:  func() camera.StreamRecorder { return recorder.New(quality) },
		CalibratedAreaPath: cfg.CalibratedAreaPath(),
		Metrics:            m,
		FeedSize:           image.Pt(w, h),
		SectorRows:         cfg.Detection.SectorRows,
		SectorCols:         cfg.Detection.SectorCols,
		PollInterval:       cfg.PollInterval(),
		DiagnosticDuration: cfg.DiagnosticDuration(),
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	detector.Attach(mgr, mgr)
	monitor.Attach(mgr)
	mgr.SetCropFeedToProjection(cfg.Calibration.CropFeed)
	mgr.SetLimitDetectProjection(cfg.Calibration.LimitDetection)

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	monitor.Start()
	defer monitor.Stop()

	if cfg.Recording.RecordShots {
		rolling, err := recorder.NewRolling(cfg.ClipDir(), cfg.Recording.ClipPreFrames, cfg.Recording.ClipPostFrames, quality)
		if err != nil {
			return err
		}
		if err := mgr.StartRecordingShots(rolling); err != nil {
			return err
		}
		defer func() {
			if err := mgr.StopRecordingShots(); err != nil {
				logger.Warn("Main", "Stop shot recording: %v", err)
			}
		}()
	}

	opts := webmonitor.ServerOptions{Metrics: m.Handler()}
	if cfg.Web.WebRTC {
		rtc := webrtc.NewServer(cfg.Web.STUNServers, maxWebRTCClients, m)
		defer rtc.Close()
		go rtc.Relay(ctx, monitor.Events())
		opts.Offers = rtc
	}

	server, err := webmonitor.NewServer(monitor, opts)
	if err != nil {
		return err
	}

	if cfg.Calibration.AutoStart {
		if err := monitor.StartCalibration(cfg.Calibration.CalculateFrameDelay); err != nil {
			logger.Warn("Main", "Auto-calibration not started: %v", err)
		}
	}

	return server.ListenAndServe(ctx)
}
