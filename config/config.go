// Package config holds the TOML configuration surface: one file with a
// section per subsystem, package defaults when the file or a key is
// absent, and validation before anything starts listening.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/api"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/geoip"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/honeypot"
	"github.com/blueiewu/iot-honeypot-esp32/pkg/ratelimit"
)

// Config represents the main application configuration
type Config struct {
	Honeypot  honeypot.Config  `toml:"honeypot"`
	RateLimit ratelimit.Config `toml:"rateLimit"`
	Log       attacklog.Config `toml:"log"`
	API       api.Config       `toml:"api"`
	GeoIP     geoip.Config     `toml:"geoip"`
	Logging   LoggingConfig    `toml:"logging"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Honeypot:  honeypot.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Log:       attacklog.DefaultConfig(),
		API:       api.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a TOML file. A missing file is not
// an error; the defaults are returned.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename == "" {
		return config, nil
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return config, nil
	}

	if _, err := toml.DecodeFile(filename, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filename, err)
	}

	return config, nil
}

// SaveConfig saves configuration to a TOML file
func SaveConfig(config *Config, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(config)
}

// Validate checks cross-section consistency before startup.
func (c *Config) Validate() error {
	if err := c.Honeypot.Validate(); err != nil {
		return err
	}
	if c.API.Enabled && c.API.Bind == "" {
		return fmt.Errorf("api enabled without a bind address")
	}
	if c.Log.MaxEntries < 1 {
		return fmt.Errorf("log maxEntries must be positive")
	}
	return nil
}

// NewLogger builds the process logger per the logging section.
func (l LoggingConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()

	switch l.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
