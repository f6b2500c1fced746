package client

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/proto"
	"github.com/tbxark/srvsession/pkg/srvsession/session"
)

// Config holds client configuration.
type Config struct {
	ServerAddr             string        `yaml:"server" validate:"required"`
	Token                  string        `yaml:"token" validate:"required"`
	Name                   string        `yaml:"name" validate:"max=64"`
	DialTimeout            time.Duration `yaml:"dial_timeout" validate:"min=0"`
	PollInterval           time.Duration `yaml:"poll_interval" validate:"min=0"`
	IgnoreConnectionErrors bool          `yaml:"ignore_connection_errors"`
	DatabasePath           string        `yaml:"database"`
	Messages               []string      `yaml:"messages" validate:"dive,min=1,max=4096"`
}

var validate = validator.New()

// DefaultConfig returns a config with timeouts filled in.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:  15 * time.Second,
		PollInterval: session.DefaultPollInterval,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := common.ValidateAddr(c.ServerAddr, false); err != nil {
		return fmt.Errorf("server address: %w", err)
	}

	if err := common.ValidateToken([]byte(c.Token)); err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}

	if len(c.Token) > proto.MaxTokenLen {
		return fmt.Errorf("token too long: %d bytes, maximum is %d", len(c.Token), proto.MaxTokenLen)
	}

	return nil
}
