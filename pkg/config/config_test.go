package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, 0.5, c.Simulation.Volatility)
	require.Equal(t, 60, c.Simulation.DurationSeconds)
	require.Equal(t, "data.json", c.Simulation.DataFile)
	require.Equal(t, time.Second, c.Simulation.StepDuration)
	require.Equal(t, "info", c.Logging.Level)
	require.Equal(t, "simulation_results.json", c.Output.File)
	require.Equal(t, -1, c.Kafka.RequiredAcks)
	require.Equal(t, int64(10<<20), c.MaxFileBytes())
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: production
simulation:
  volatility: 0.1
  duration_seconds: 3600
  intervals: [EVERY_SECOND, END_OF_MINUTE]
  step_duration: 250ms
logging:
  level: debug
  format: json
clickhouse:
  enabled: true
  host: ch
`))
	require.NoError(t, err)
	require.Equal(t, "production", c.Environment)
	require.Equal(t, 0.1, c.Simulation.Volatility)
	require.Equal(t, 3600, c.Simulation.DurationSeconds)
	require.Equal(t, []string{"EVERY_SECOND", "END_OF_MINUTE"}, c.Simulation.Intervals)
	require.Equal(t, 250*time.Millisecond, c.Simulation.StepDuration)
	require.Equal(t, "debug", c.Logging.Level)
	require.Equal(t, "json", c.Logging.Format)
	require.Equal(t, "ch:9000", c.ClickHouse.Addr())
	require.Equal(t, 8080, c.Server.Port)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"volatility":  "simulation:\n  volatility: 2.5\n",
		"duration":    "simulation:\n  duration_seconds: 0\n",
		"data file":   "simulation:\n  data_file: data.csv\n",
		"log level":   "logging:\n  level: loud\n",
		"kafka":       "kafka:\n  enabled: true\n",
		"collect":     "logging:\n  collect_topic: logs\n",
		"bad yaml":    "simulation: [",
		"compression": "kafka:\n  compression: brotli\n",
		"environment": "environment: moon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("simulation:\n  volatility: 0.2\n"), 0o644))

	t.Setenv("PRICESIM_VOLATILITY", "1.5")
	t.Setenv("PRICESIM_DURATION", "120")
	t.Setenv("PRICESIM_DATA_FILE", "aapl.json")
	t.Setenv("PRICESIM_OUTPUT_FILE", "out.json")
	t.Setenv("PRICESIM_LOG_LEVEL", "WARN")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := LoadWithEnv(p)
	require.NoError(t, err)
	require.Equal(t, 1.5, c.Simulation.Volatility)
	require.Equal(t, 120, c.Simulation.DurationSeconds)
	require.Equal(t, "aapl.json", c.Simulation.DataFile)
	require.Equal(t, "out.json", c.Output.File)
	require.Equal(t, "warn", c.Logging.Level)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	require.True(t, c.Kafka.Enabled)
	require.True(t, c.Redis.Enabled)

	t.Setenv("PRICESIM_VOLATILITY", "high")
	_, err = LoadWithEnv(p)
	require.ErrorContains(t, err, "PRICESIM_VOLATILITY")

	t.Setenv("PRICESIM_VOLATILITY", "3")
	_, err = LoadWithEnv("")
	require.Error(t, err)
}
