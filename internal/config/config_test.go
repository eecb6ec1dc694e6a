package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/podcaster")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, EventBusRedis, cfg.Events.Bus)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, int64(5<<20), cfg.Cache.MaxEntryBytes)
	assert.Equal(t, "immediate", cfg.Invalidation.Strategy)
	assert.Equal(t, 30*time.Second, cfg.Invalidation.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Worker.StalledAfter)
	assert.Empty(t, cfg.Edge.PurgeURL)
	assert.NoError(t, cfg.RequireDatabase())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BASE_URL", "https://pods.example.com/")
	t.Setenv("EVENT_BUS", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FEED_CACHE_TTL", "90s")
	t.Setenv("INVALIDATION_STRATEGY", "lazy")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://pods.example.com", cfg.BaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "lazy", cfg.Invalidation.Strategy)
	assert.Error(t, cfg.RequireDatabase())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown strategy", "INVALIDATION_STRATEGY", "eventually"},
		{"unknown bus", "EVENT_BUS", "carrier-pigeon"},
		{"zero ttl", "FEED_CACHE_TTL", "0s"},
		{"bad duration", "FEED_CACHE_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
