package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/codeshare/internal/execution"
	"github.com/michaelbrown/codeshare/internal/logging"
	"github.com/michaelbrown/codeshare/internal/relay"
)

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DBPath string `mapstructure:"db_path"`
	DSN    string `mapstructure:"dsn"`
}

type RelayConfig struct {
	Broker string            `mapstructure:"broker"` // memory or redis
	Redis  relay.RedisConfig `mapstructure:"redis"`
}

type ClientConfig struct {
	Relay        string        `mapstructure:"relay"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	TemplatesDir string        `mapstructure:"templates_dir"`
}

type SandboxConfig struct {
	Isolation string                 `mapstructure:"isolation"` // process or inprocess
	Python    execution.EngineConfig `mapstructure:"python"`
}

type DiscoveryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Instance      string        `mapstructure:"instance"`
	BrowseTimeout time.Duration `mapstructure:"browse_timeout"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Client    ClientConfig    `mapstructure:"client"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Log       logging.Config  `mapstructure:"log"`
}

// Load reads codeshare.yaml from path, or from . and $HOME/.codeshare when
// path is empty. A missing file is only an error when path is given.
// Environment variables prefixed CODESHARE_ override file values, e.g.
// CODESHARE_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codeshare")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.codeshare")
	}

	v.SetEnvPrefix("codeshare")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in secrets
	cfg.Storage.DSN = expandEnv(cfg.Storage.DSN)
	cfg.Relay.Redis.Password = expandEnv(cfg.Relay.Redis.Password)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")
	engines := execution.DefaultEngineConfig()
	logs := logging.DefaultConfig()

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", filepath.Join(home, ".codeshare", "codeshare.db"))
	v.SetDefault("storage.dsn", "")
	v.SetDefault("relay.broker", "memory")
	v.SetDefault("relay.redis.addr", "localhost:6379")
	v.SetDefault("relay.redis.password", "")
	v.SetDefault("relay.redis.db", 0)
	v.SetDefault("client.relay", "http://localhost:8000")
	v.SetDefault("client.dial_timeout", 30*time.Second)
	v.SetDefault("client.templates_dir", filepath.Join(home, ".codeshare", "templates"))
	v.SetDefault("sandbox.isolation", "process")
	v.SetDefault("sandbox.python.runner", engines.Runner)
	v.SetDefault("sandbox.python.interpreter", engines.Interpreter)
	v.SetDefault("sandbox.python.image", engines.Image)
	v.SetDefault("sandbox.python.network", engines.Network)
	v.SetDefault("sandbox.python.memory", engines.Memory)
	v.SetDefault("sandbox.python.images", engines.Images)
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.instance", "")
	v.SetDefault("discovery.browse_timeout", 3*time.Second)
	v.SetDefault("log.level", logs.Level)
	v.SetDefault("log.development", logs.Development)
	v.SetDefault("log.output_paths", logs.OutputPaths)
}

// expandEnv replaces a value of the form ${VAR} with the variable's value.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Addr is the listen address for the relay.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
