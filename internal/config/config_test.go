package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, ":8000", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(home, ".codeshare", "codeshare.db"), cfg.Storage.DBPath)
	assert.Equal(t, "memory", cfg.Relay.Broker)
	assert.Equal(t, "http://localhost:8000", cfg.Client.Relay)
	assert.Equal(t, 30*time.Second, cfg.Client.DialTimeout)
	assert.Equal(t, "process", cfg.Sandbox.Isolation)
	assert.Equal(t, "local", cfg.Sandbox.Python.Runner)
	assert.Contains(t, cfg.Sandbox.Python.Images, "python:3.12-slim")
	assert.Equal(t, "256m", cfg.Sandbox.Python.Memory)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	t.Setenv("PG_DSN", "postgres://u:p@db/codeshare")

	yaml := `
server:
  port: 9100
  static_dir: ./web
storage:
  driver: postgres
  dsn: ${PG_DSN}
relay:
  broker: redis
  redis:
    addr: redis:6379
client:
  dial_timeout: 5s
sandbox:
  isolation: inprocess
  python:
    runner: docker
    image: python:3.11-slim
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "./web", cfg.Server.StaticDir)
	assert.Equal(t, "postgres://u:p@db/codeshare", cfg.Storage.DSN)
	assert.Equal(t, "redis", cfg.Relay.Broker)
	assert.Equal(t, "redis:6379", cfg.Relay.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Client.DialTimeout)
	assert.Equal(t, "inprocess", cfg.Sandbox.Isolation)
	assert.Equal(t, "docker", cfg.Sandbox.Python.Runner)
	assert.Equal(t, "python:3.11-slim", cfg.Sandbox.Python.Image)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "codeshare.yaml"), []byte("server:\n  port: 9000\n"), 0o644))
	t.Setenv("CODESHARE_SERVER_PORT", "9200")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SECRET_PW", "hunter2")
	assert.Equal(t, "hunter2", expandEnv("${SECRET_PW}"))
	assert.Equal(t, "plain", expandEnv("plain"))
	assert.Equal(t, "", expandEnv("${UNSET_VARIABLE_FOR_TEST}"))
}
