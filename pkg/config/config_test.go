package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	type testConfig struct {
		Port     int      `env:"TEST_LOADER_PORT" envDefault:"8080"`
		Secret   string   `env:"TEST_LOADER_SECRET" envDefault:"dev-secret"`
		Brokers  []string `env:"TEST_LOADER_BROKERS" envDefault:"localhost:9092" envSeparator:","`
		Verbose  bool     `env:"TEST_LOADER_VERBOSE" envDefault:"false"`
	}

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "dev-secret", cfg.Secret)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.False(t, cfg.Verbose)
}

func TestLoad_OverridesFromEnvironment(t *testing.T) {
	type testConfig struct {
		Port    int      `env:"TEST_LOADER_PORT2" envDefault:"8080"`
		Brokers []string `env:"TEST_LOADER_BROKERS2" envDefault:"localhost:9092" envSeparator:","`
	}

	t.Setenv("TEST_LOADER_PORT2", "9001")
	t.Setenv("TEST_LOADER_BROKERS2", "kafka-1:9092,kafka-2:9092")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
}

func TestLoad_InvalidValue(t *testing.T) {
	type testConfig struct {
		Port int `env:"TEST_LOADER_PORT3" envDefault:"8080"`
	}

	t.Setenv("TEST_LOADER_PORT3", "not-a-number")

	var cfg testConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
