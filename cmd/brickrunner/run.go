package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/config"
	"github.com/GriffinCanCode/brickrunner/internal/logging"
	"github.com/GriffinCanCode/brickrunner/internal/runner"
)

var runFlags struct {
	config      string
	port        int
	gridManager string
	noGrid      bool
	logLevel    string
	dev         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the brick described by a brick file",
	RunE:  runRunner,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.config, "config", "c", "", "brick file (overrides BRICK_CONFIG)")
	f.IntVarP(&runFlags.port, "port", "p", 0, "listen port (overrides RUNNER_PORT)")
	f.StringVar(&runFlags.gridManager, "gridmanager", "", "grid manager base URL (overrides GRIDMANAGER_ADDR)")
	f.BoolVar(&runFlags.noGrid, "no-gridmanager", false, "run without a grid manager")
	f.StringVar(&runFlags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	f.BoolVar(&runFlags.dev, "dev", false, "human readable development logging")
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("config") {
		cfg.BrickConfig = runFlags.config
	}
	if f.Changed("port") {
		cfg.Runner.Port = runFlags.port
	}
	if f.Changed("gridmanager") {
		cfg.GridManager.Address = runFlags.gridManager
		cfg.GridManager.Enabled = true
	}
	if runFlags.noGrid {
		cfg.GridManager.Enabled = false
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = runFlags.logLevel
	}
	if runFlags.dev {
		cfg.Logging.Development = true
	}
	if cfg.BrickConfig == "" {
		return nil, errors.New("no brick file: pass --config or set BRICK_CONFIG")
	}
	return cfg, cfg.Validate()
}

func runRunner(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logger())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	bf, err := config.LoadBrickFile(cfg.BrickConfig)
	if err != nil {
		return err
	}

	r, err := runner.New(runner.Options{
		Config:            cfg,
		Brick:             bf.Brick,
		OutputConnections: bf.OutputConnections,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	logger.Info("Starting brick runner",
		zap.String("version", version),
		zap.String("brick_config", cfg.BrickConfig),
		zap.Bool("gridmanager", cfg.GridManager.Enabled),
	)

	stop := r.HandleSignals()
	defer stop()
	return r.Run(cmd.Context())
}
