package main

import (
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheWiseOptimist/ShootOFF/internal/vision"
)

func newPatternCommand(ctx *commandContext) *cobra.Command {
	var output string
	var width, height int

	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Write the calibration pattern as a PNG for printing or projecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load()
			if err != nil {
				return err
			}
			if width <= 0 || height <= 0 {
				return fmt.Errorf("invalid pattern size %dx%d", width, height)
			}

			img := vision.RenderPattern(width, height, cfg.Calibration.PatternCols, cfg.Calibration.PatternRows, cfg.Calibration.BorderFactor)
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := png.Encode(f, img); err != nil {
				f.Close()
				return fmt.Errorf("encode pattern: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %dx%d pattern to %s\n", width, height, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "pattern.png", "Output PNG path")
	cmd.Flags().IntVar(&width, "width", 1280, "Image width in pixels")
	cmd.Flags().IntVar(&height, "height", 720, "Image height in pixels")
	return cmd
}
