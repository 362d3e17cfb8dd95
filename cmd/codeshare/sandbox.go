package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/config"
	"github.com/michaelbrown/codeshare/internal/execution"
	"github.com/michaelbrown/codeshare/internal/logging"
)

var sandboxCmd = &cobra.Command{
	Use:    "sandbox",
	Short:  "Serve run requests on stdin/stdout (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runSandbox,
}

func init() {
	rootCmd.AddCommand(sandboxCmd)
}

// runSandbox is the child side of process isolation. Stdout carries the
// message stream, so logs always go to stderr. Ctrl+C in the owner's
// terminal does not reach it; the owner closes stdin to stop it.
func runSandbox(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	engines, err := execution.NewEngines(cfg.Sandbox.Python, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	logger.Debug("sandbox serving", zap.Int("pid", os.Getpid()))
	return execution.ServeStdio(ctx, logger, engines...)
}

// sandboxFactory picks the isolation mode for the owner side.
func sandboxFactory(cfg *config.Config, logger *zap.Logger) (execution.Factory, error) {
	switch cfg.Sandbox.Isolation {
	case "", "process":
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating codeshare binary: %w", err)
		}
		args := []string{"sandbox"}
		if configFlag != "" {
			args = append(args, "--config", configFlag)
		}
		if logLevelFlag != "" {
			args = append(args, "--log-level", logLevelFlag)
		}
		return execution.Process(self, args, logger), nil
	case "inprocess":
		engines, err := execution.NewEngines(cfg.Sandbox.Python, logger)
		if err != nil {
			return nil, err
		}
		return execution.InProcess(logger, engines...), nil
	}
	return nil, fmt.Errorf("unknown sandbox isolation %q", cfg.Sandbox.Isolation)
}
