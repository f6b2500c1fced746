package server

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
)

// Config holds server configuration.
type Config struct {
	ListenAddr        string        `validate:"required"`
	Token             []byte        `validate:"required,min=16,max=255"`
	MaxClients        int           `validate:"required,min=1"`
	MaxAuthFailures   int           `validate:"required,min=1"`
	AuthBlockDuration time.Duration `validate:"required,min=1ms"`
	BlockedNetworks   []string      `validate:"dive,cidr"`
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := common.ValidateAddr(c.ListenAddr, true); err != nil {
		return fmt.Errorf("listen address: %w", err)
	}

	if err := common.ValidateToken(c.Token); err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}

	return nil
}
