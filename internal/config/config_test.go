package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "EvoFunk", cfg.App.Name)
	assert.Equal(t, "paper", cfg.App.Mode)
	assert.Equal(t, 300*time.Second, cfg.Evolution.CheckInterval)
	assert.Equal(t, 60*time.Second, cfg.Evolution.MetricsInterval)
	assert.Equal(t, 6*time.Hour, cfg.Evolution.Cooldown)
	assert.Equal(t, 3, cfg.Evolution.MaxConcurrent)
	assert.Equal(t, 0.02, cfg.Evolution.MinImprovement)
	assert.Equal(t, 35.0, cfg.Lifecycle.RetirementScore)
	assert.True(t, cfg.Lifecycle.RequireRealizedPnL)
	assert.Equal(t, 50.0, cfg.Protection.ProtectedScore)
	assert.Equal(t, 60.0, cfg.Protection.EliteScore)
	assert.Equal(t, 70.0, cfg.Fitness.TargetScore)
	assert.Equal(t, 4*time.Hour, cfg.Fitness.TargetHoldTime)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app:
  mode: live
  log_level: debug
database:
  host: db.internal
evolution:
  max_concurrent: 5
  cooldown: 12h
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.App.Mode)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5, cfg.Evolution.MaxConcurrent)
	assert.Equal(t, 12*time.Hour, cfg.Evolution.Cooldown)
	// Defaults still apply for unset keys
	assert.Equal(t, 0.5, cfg.Evolution.MinConfidence)
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.App.Mode = "gambling"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Evolution.UrgentBelow = 0.8
	cfg.Evolution.RoutineBelow = 0.5
	assert.Error(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Protection.ProtectedScore = 90
	assert.Error(t, cfg.Validate())
}

func TestValidateConcurrency(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Evolution.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "secret", Database: "evofunk", SSLMode: "disable",
	}
	dsn := db.GetDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=evofunk")
}

func TestGetRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6379}
	assert.Equal(t, "cache:6379", r.GetRedisAddr())
}
