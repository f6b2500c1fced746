package common

import (
	"time"

	"github.com/hashicorp/yamux"
	"go.uber.org/zap"
)

// YamuxConfig returns the multiplexer settings shared by client and server,
// with yamux's own log lines routed through logger.
func YamuxConfig(logger *zap.Logger) *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 30 * time.Second
	cfg.ConnectionWriteTimeout = 10 * time.Second
	cfg.LogOutput = nil
	cfg.Logger = zap.NewStdLog(OrNop(logger).Named("yamux"))
	return cfg
}
