package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv() {
	for _, k := range []string{
		"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID",
		"DATABASE_URL", "AUTH_JWT_SECRET",
		"DEADLETTER_ENABLED", "DEADLETTER_AMQP_URL",
		"OFFSET_COMMIT_MODE",
	} {
		os.Unsetenv(k)
	}
}

func setRequired() {
	os.Setenv("KAFKA_BROKERS", "localhost:9092")
	os.Setenv("KAFKA_TOPIC", "activity-events")
	os.Setenv("KAFKA_GROUP_ID", "activity-aggregator")
	os.Setenv("DATABASE_URL", "postgres://localhost:5432/agg")
	os.Setenv("AUTH_JWT_SECRET", "super-secret")
}

func TestLoad_MissingKafkaBrokers(t *testing.T) {
	clearEnv()
	defer clearEnv()
	cfg, err := Load()
	require.Nil(t, cfg)
	require.EqualError(t, err, "missing KAFKA_BROKERS")
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	clearEnv()
	defer clearEnv()
	os.Setenv("KAFKA_BROKERS", "localhost:9092")
	os.Setenv("KAFKA_TOPIC", "activity-events")
	os.Setenv("KAFKA_GROUP_ID", "activity-aggregator")
	cfg, err := Load()
	require.Nil(t, cfg)
	require.EqualError(t, err, "missing DATABASE_URL")
}

func TestLoad_MissingAuthSecret(t *testing.T) {
	clearEnv()
	defer clearEnv()
	os.Setenv("KAFKA_BROKERS", "localhost:9092")
	os.Setenv("KAFKA_TOPIC", "activity-events")
	os.Setenv("KAFKA_GROUP_ID", "activity-aggregator")
	os.Setenv("DATABASE_URL", "postgres://localhost:5432/agg")
	cfg, err := Load()
	require.Nil(t, cfg)
	require.EqualError(t, err, "missing AUTH_JWT_SECRET")
}

func TestLoad_DeadletterEnabledRequiresAMQPURL(t *testing.T) {
	clearEnv()
	defer clearEnv()
	setRequired()
	os.Setenv("DEADLETTER_ENABLED", "true")
	os.Setenv("DEADLETTER_AMQP_URL", "")
	cfg, err := Load()
	require.Nil(t, cfg)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownOffsetCommitMode(t *testing.T) {
	clearEnv()
	defer clearEnv()
	setRequired()
	os.Setenv("OFFSET_COMMIT_MODE", "sometimes")
	cfg, err := Load()
	require.Nil(t, cfg)
	require.Error(t, err)
}

func TestLoad_DefaultsAppliedWhenValid(t *testing.T) {
	clearEnv()
	defer clearEnv()
	setRequired()

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 10*time.Second, cfg.FlushInterval)
	require.Equal(t, "earliest", cfg.KafkaAutoOffsetReset)
	require.Equal(t, OffsetCommitImmediate, cfg.OffsetCommitMode)
	require.Equal(t, 8080, cfg.HTTPPort)
}

func TestLoad_ParsesCommaSeparatedBrokers(t *testing.T) {
	clearEnv()
	defer clearEnv()
	setRequired()
	os.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092,broker-3:9092")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092", "broker-3:9092"}, cfg.KafkaBrokers)
}

func TestGetEnv_TrimsWhitespace(t *testing.T) {
	os.Setenv("TEST_KEY", "  value_with_spaces  ")
	defer os.Unsetenv("TEST_KEY")
	require.Equal(t, "value_with_spaces", getEnv("TEST_KEY", "default"))
}

func TestGetDuration_ParsesBareSeconds(t *testing.T) {
	os.Setenv("TEST_DUR_SECONDS", "5")
	defer os.Unsetenv("TEST_DUR_SECONDS")
	require.Equal(t, 5*time.Second, getDuration("TEST_DUR_SECONDS", 10*time.Second))
}

func TestGetDuration_FallsBackOnInvalid(t *testing.T) {
	os.Setenv("TEST_DUR_SECONDS", "not-a-number")
	defer os.Unsetenv("TEST_DUR_SECONDS")
	require.Equal(t, 10*time.Second, getDuration("TEST_DUR_SECONDS", 10*time.Second))
}
