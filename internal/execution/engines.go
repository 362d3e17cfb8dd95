package execution

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/engine"
	"github.com/michaelbrown/codeshare/internal/engine/js"
	"github.com/michaelbrown/codeshare/internal/engine/python"
	"github.com/michaelbrown/codeshare/internal/sandbox"
)

// EngineConfig selects how the Python engine gets its interpreter.
type EngineConfig struct {
	Runner      string   `mapstructure:"runner"`      // "local" or "docker"
	Interpreter string   `mapstructure:"interpreter"` // local runner only
	Image       string   `mapstructure:"image"`       // docker runner only
	Network     bool     `mapstructure:"network"`
	Memory      string   `mapstructure:"memory"` // docker --memory
	Images      []string `mapstructure:"images"`
}

// DefaultEngineConfig runs Python with the host's python3.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Runner:      "local",
		Interpreter: "python3",
		Image:       "python:3.12-slim",
		Memory:      sandbox.DefaultPolicy().Memory,
		Images:      sandbox.DefaultPolicy().Images,
	}
}

// NewEngines builds the JavaScript and Python engines.
func NewEngines(cfg EngineConfig, logger *zap.Logger) ([]engine.Engine, error) {
	var runner sandbox.Runner
	switch cfg.Runner {
	case "", "local":
		runner = sandbox.NewLocalRunner(cfg.Interpreter)
	case "docker":
		policy := sandbox.DefaultPolicy()
		policy.Network = cfg.Network
		policy.Memory = cfg.Memory
		if len(cfg.Images) > 0 {
			policy.Images = cfg.Images
		}
		runner = sandbox.NewDockerRunner(policy, cfg.Image)
	default:
		return nil, fmt.Errorf("unknown python runner %q", cfg.Runner)
	}

	return []engine.Engine{
		js.New(logger),
		python.New(runner, logger),
	}, nil
}
