package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hostlink/go-hostlink/pkg/logging"
)

// Config represents the demo application configuration. The bootstrap's own
// inputs arrive as flat HOSTLINK_* variables set by the agent; application
// configuration lives under nested keys (HOSTLINK_SERVER_PORT etc.) so the
// two never collide.
type Config struct {
	App     AppConfig      `yaml:"app" envconfig:"APP"`
	Server  ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Logging logging.Config `yaml:"logging" envconfig:"LOGGING"`
	CORS    CORSConfig     `yaml:"cors" envconfig:"CORS"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name                string `yaml:"name" envconfig:"NAME"`
	MaxRequestBodyBytes int64  `yaml:"max_request_body_bytes" envconfig:"MAX_REQUEST_BODY_BYTES"` // 0 disables the cap
}

// ServerConfig contains the standalone HTTP server configuration. Ignored
// when an agent assigns the address.
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int    `yaml:"port" envconfig:"PORT"`
}

// CORSConfig contains cross-origin settings for the demo routes
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Missing file is fine, defaults and env vars apply.
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables take highest priority.
	if err := envconfig.Process("HOSTLINK", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "hostlink-demo",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.App.MaxRequestBodyBytes < 0 {
		return fmt.Errorf("max_request_body_bytes must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
