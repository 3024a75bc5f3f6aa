package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/grups/src/infra/logging"
	"github.com/bryanwahyu/grups/src/infra/storage"
)

const envPrefix = "GRUPS_"

type Config struct {
	HTTPAddress     string         `yaml:"http_address" env:"HTTP_ADDR"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	JWTSecret       string         `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer       string         `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	OTLPEndpoint    string         `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure    bool           `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
	Storage         storage.Config `yaml:"storage" envPrefix:"STORAGE_"`
	Log             logging.Config `yaml:"log" envPrefix:"LOG_"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddress:     ":8080",
		ShutdownTimeout: 10 * time.Second,
		Storage: storage.Config{
			Driver:         storage.DriverPostgres,
			MaxConns:       10,
			ConnectTimeout: 5 * time.Second,
		},
		Log: logging.Config{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// loadConfig layers defaults, the optional YAML file named by GRUPS_CONFIG_FILE, then GRUPS_* variables.
func loadConfig() (Config, error) {
	cfg := defaultConfig()
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("GRUPS_JWT_SECRET is required")
	}
	if c.Storage.Driver != storage.DriverMemory && c.Storage.DSN == "" {
		return fmt.Errorf("GRUPS_STORAGE_DSN is required for driver %q", c.Storage.Driver)
	}
	return nil
}
