package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "3306", cfg.Database.Port)
	assert.Equal(t, 15*time.Minute, cfg.Reservation.TTL)
	assert.Equal(t, 3, cfg.Workers.FinalizerMaxRetries)
	assert.True(t, cfg.Reservation.RequireVerification)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("RESERVATION_TTL", "5m")
	t.Setenv("FINALIZER_MAX_RETRIES", "7")
	t.Setenv("KAFKA_MOCK_MODE", "true")
	t.Setenv("SWEEP_BATCH_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Minute, cfg.Reservation.TTL)
	assert.Equal(t, 7, cfg.Workers.FinalizerMaxRetries)
	assert.True(t, cfg.Kafka.MockMode)
	assert.Equal(t, 200, cfg.Workers.SweepBatchSize, "invalid values fall back to the default")
}
