package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Pixel     PixelConfig     `koanf:"pixel"`
	Reporting ReportingConfig `koanf:"reporting"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url" validate:"required"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type PixelConfig struct {
	Endpoint string        `koanf:"endpoint" validate:"required,url"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`

	// Outbound rate limit toward the pixel endpoint.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"gt=0"`
}

type ReportingConfig struct {
	// Per-job-type execution budgets; starts younger than the budget are
	// never counted stalled.
	ScanTimeout   time.Duration `koanf:"scan_timeout" validate:"gt=0"`
	OptOutTimeout time.Duration `koanf:"optout_timeout" validate:"gt=0"`

	// How often the gate is re-evaluated (stand-in for app-foreground
	// triggers).
	CheckInterval time.Duration `koanf:"check_interval" validate:"gt=0"`
}

type MetricsConfig struct {
	Port int `koanf:"port" validate:"gt=0,lte=65535"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Pixel: PixelConfig{
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Reporting: ReportingConfig{
			ScanTimeout:   2 * time.Hour,
			OptOutTimeout: 72 * time.Hour,
			CheckInterval: time.Hour,
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// The config file is optional; defaults plus environment cover the
	// containerized deployment.
	_ = k.Load(file.Provider("configs/config.yaml"), yaml.Parser())

	// Override with environment variables. Double underscore separates
	// sections so single underscores survive in key names, e.g.
	// DBP_REPORTING__SCAN_TIMEOUT maps to reporting.scan_timeout.
	if err := k.Load(env.Provider("DBP_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "DBP_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
