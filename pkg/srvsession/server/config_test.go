package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:7000",
		Token:             []byte("0123456789abcdef"),
		MaxClients:        10,
		MaxAuthFailures:   5,
		AuthBlockDuration: time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "valid blocked networks", mutate: func(c *Config) { c.BlockedNetworks = []string{"10.0.0.0/8", "fd00::/8"} }},
		{name: "missing listen addr", mutate: func(c *Config) { c.ListenAddr = "" }, wantErr: true},
		{name: "ephemeral port", mutate: func(c *Config) { c.ListenAddr = "127.0.0.1:0" }},
		{name: "ephemeral port any host", mutate: func(c *Config) { c.ListenAddr = ":0" }},
		{name: "ipv6 loopback", mutate: func(c *Config) { c.ListenAddr = "[::1]:9527" }},
		{name: "ipv6 any", mutate: func(c *Config) { c.ListenAddr = "[::]:9527" }},
		{name: "port out of range", mutate: func(c *Config) { c.ListenAddr = "127.0.0.1:70000" }, wantErr: true},
		{name: "listen addr without port", mutate: func(c *Config) { c.ListenAddr = "127.0.0.1" }, wantErr: true},
		{name: "short token", mutate: func(c *Config) { c.Token = []byte("short") }, wantErr: true},
		{name: "zero max clients", mutate: func(c *Config) { c.MaxClients = 0 }, wantErr: true},
		{name: "zero auth failures", mutate: func(c *Config) { c.MaxAuthFailures = 0 }, wantErr: true},
		{name: "zero block duration", mutate: func(c *Config) { c.AuthBlockDuration = 0 }, wantErr: true},
		{name: "bad cidr", mutate: func(c *Config) { c.BlockedNetworks = []string{"10.0.0.0"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
