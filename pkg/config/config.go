package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"PriceSim/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Mode        string           `yaml:"mode" default:"once" validate:"oneof=once serve"`
	Simulation  SimulationConfig `yaml:"simulation"`
	Output      OutputConfig     `yaml:"output"`
	Logging     LoggingConfig    `yaml:"logging"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
}

type SimulationConfig struct {
	Volatility           float64       `yaml:"volatility" default:"0.5" validate:"gte=0,lte=2"`
	DurationSeconds      int           `yaml:"duration_seconds" default:"60" validate:"gt=0"`
	DataFile             string        `yaml:"data_file" default:"data.json" validate:"required,endswith=.json"`
	Intervals            []string      `yaml:"intervals"`
	TerminalInterval     string        `yaml:"terminal_interval" default:"END_OF_MINUTE"`
	SkipUnknownIntervals bool          `yaml:"skip_unknown_intervals"`
	StepDuration         time.Duration `yaml:"step_duration" default:"1s" validate:"gte=0"`
	Seed                 *uint64       `yaml:"seed"`
	MaxFileSizeMB        int           `yaml:"max_file_size_mb" default:"10" validate:"gt=0"`
	MaxRetainedRuns      int           `yaml:"max_retained_runs" default:"100" validate:"gt=0"`
}

type OutputConfig struct {
	Dir  string `yaml:"dir" default:"."`
	File string `yaml:"file" default:"simulation_results.json"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
	CollectTopic  string        `yaml:"collect_topic"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"10s"`
	FlushCount    int           `yaml:"flush_count" default:"100"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	BodyLimit       string        `yaml:"body_limit" default:"1M"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimit       struct {
		Capacity     float64 `yaml:"capacity" default:"10" validate:"gte=0"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"1" validate:"gte=0"`
	} `yaml:"rate_limit"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `yaml:"topic" default:"pricesim.observations"`
	RequiredAcks int           `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
	BatchSize    int           `yaml:"batch_size" default:"500"`
	BatchBytes   int64         `yaml:"batch_bytes" default:"1048576"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	Table            string        `yaml:"table" default:"pricesim_observations"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

// Addr joins host and port.
func (c ClickHouseConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr" default:"localhost:6379"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"pool_size" default:"10"`
	StatusTTL time.Duration `yaml:"status_ttl" default:"24h"`
}

// Default returns a config populated from struct defaults only.
func Default() *Config {
	var c Config
	// tags are static; a failure here is a programming error
	if err := defaults.Set(&c); err != nil {
		panic(err)
	}
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes YAML on top and validates.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML (or defaults when path is empty) and
// overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path == "" {
		c = Default()
	} else if c, err = Load(path); err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PRICESIM_VOLATILITY"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PRICESIM_VOLATILITY: %w", err)
		}
		c.Simulation.Volatility = f
	}
	if v, ok := lookup("PRICESIM_DURATION"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRICESIM_DURATION: %w", err)
		}
		c.Simulation.DurationSeconds = n
	}
	if v, ok := lookup("PRICESIM_DATA_FILE"); ok && v != "" {
		c.Simulation.DataFile = v
	}
	if v, ok := lookup("PRICESIM_OUTPUT_FILE"); ok && v != "" {
		c.Output.File = v
	}
	if v, ok := lookup("PRICESIM_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v, ok := lookup("KAFKA_TOPIC"); ok && v != "" {
		c.Kafka.Topic = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			msgs := make([]string, 0, len(ves))
			for _, fe := range ves {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Logging.CollectTopic != "" && !c.Kafka.Enabled {
		return fmt.Errorf("logging.collect_topic requires kafka.enabled")
	}
	return nil
}

// MaxFileBytes is the market document size limit in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.Simulation.MaxFileSizeMB) << 20
}
