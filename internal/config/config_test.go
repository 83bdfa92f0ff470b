package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "sqlite", cfg.DBDriver)
	require.Equal(t, PendingBackendMemory, cfg.PendingBackend)
	require.Equal(t, 10*time.Minute, cfg.PendingTTL)
	require.Equal(t, 5, cfg.BalanceUpdateRetries)
	require.False(t, cfg.EventsEnabled)
	require.Equal(t, time.UTC, cfg.CatalogLocation)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PENDING_TTL_SECONDS", "900")
	t.Setenv("LOCK_WAIT_MS", "250")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PENDING_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.PendingTTL)
	require.Equal(t, 250*time.Millisecond, cfg.LockWait)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, PendingBackendRedis, cfg.PendingBackend)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"negative ttl":          {"PENDING_TTL_SECONDS": "-1"},
		"bad retries":           {"BALANCE_UPDATE_RETRIES": "zero"},
		"redis backend no addr": {"PENDING_BACKEND": "redis"},
		"unknown backend":       {"PENDING_BACKEND": "etcd"},
		"postgres without url":  {"DB_DRIVER": "postgres"},
		"events without redis":  {"EVENTS_ENABLED": "true"},
		"bad timezone":          {"CATALOG_TZ": "Mars/Olympus"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
