package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_FillsDefaultsWhenFileOmitsSections(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8, cfg.Trading.ExecutorWorkers)
	assert.Equal(t, 1000000.0, cfg.Trading.InitialCash)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 200*time.Millisecond, cfg.Trading.ConditionalTick)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_SpecEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeConfigFile(t, "redis:\n  host: file-redis\n  port: 1111\n")

	t.Setenv("REDIS_HOST", "env-redis")
	t.Setenv("REDIS_PORT", "2222")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "15")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-redis", cfg.Redis.Host)
	assert.Equal(t, 2222, cfg.Redis.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
}

func TestDatabaseConfig_ConnectionStringAssemblesDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "sim_exchange"}
	assert.Equal(t, "postgres://u:p@db:5432/sim_exchange?sslmode=disable", db.ConnectionString())
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}
