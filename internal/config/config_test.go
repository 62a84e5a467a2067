package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NWWSIO_USERNAME", "testuser")
	t.Setenv("NWWSIO_PASSWORD", "testpass")
	t.Setenv("NWWSIO_ROOM", "nwws@conference.nwws-oi.weather.gov")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nwws-oi.weather.gov", cfg.Receiver.Server)
	assert.Equal(t, 5222, cfg.Receiver.Port)
	assert.True(t, cfg.Receiver.AutoReconnect)
	assert.Equal(t, 3, cfg.Receiver.MaxAuthFailures)
	assert.Equal(t, 5000, cfg.Pipeline.MaxQueueSize)
	assert.Equal(t, "continue", cfg.Pipeline.ErrorPolicy.Strategy)
	assert.Equal(t, 1000, cfg.Dedup.WindowSize)
	assert.Equal(t, 10*time.Minute, cfg.Dedup.WindowSeconds)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.False(t, cfg.MQTT.Retain)
	assert.Equal(t, 6, cfg.DBCleanup.IntervalHours)
	assert.Equal(t, 500, cfg.DBCleanup.MaxDeletionsPerCycle)
	assert.Equal(t, 7, cfg.DBCleanup.DefaultRetentionDays)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_MissingUsername(t *testing.T) {
	t.Setenv("NWWSIO_USERNAME", "")
	t.Setenv("NWWSIO_PASSWORD", "testpass")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NWWSIO_USERNAME")
}

func TestLoad_InvalidErrorStrategy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PIPELINE_ERROR_HANDLING_STRATEGY", "explode")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidQoS(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MQTT_QOS", "7")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_CustomEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MQTT_BROKER", "broker.example.com")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("DB_CLEANUP_DRY_RUN_MODE", "true")
	t.Setenv("PIPELINE_MAX_QUEUE_SIZE", "100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "broker.example.com", cfg.MQTT.Broker)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.True(t, cfg.DBCleanup.DryRunMode)
	assert.Equal(t, 100, cfg.Pipeline.MaxQueueSize)
}
