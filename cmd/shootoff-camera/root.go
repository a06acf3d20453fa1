package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheWiseOptimist/ShootOFF/internal/config"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
)

// commandContext carries the persistent flags to subcommands.
type commandContext struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "shootoff-camera",
		Short:         "ShootOFF camera pipeline and projector calibration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level override (debug, info, warn, error, silent)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newCalibrateCommand(ctx))
	rootCmd.AddCommand(newPatternCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// load reads the configuration and initializes the global logger from it.
func (c *commandContext) load() (*config.Config, error) {
	cfg, path, exists, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}

	levelName := cfg.Logging.Level
	if c.logLevel != "" {
		levelName = c.logLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.Init(level, os.Stderr, useColor(cfg.Logging.Color))

	if exists {
		logger.Info("Main", "Loaded config from %s", path)
	} else {
		logger.Info("Main", "No config at %s, using defaults", path)
	}
	return cfg, nil
}

func useColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return logger.IsTerminal(os.Stderr)
	}
}
