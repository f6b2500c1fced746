package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/server"
	"github.com/tbxark/srvsession/pkg/srvsession/version"
)

func main() {
	cfg, logLevel, err := parseFlags()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to parse configuration: %v\n", err)
		os.Exit(2)
	}

	level, err := common.ParseLevel(logLevel)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(2)
	}
	logger, err := common.NewLogger(level)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("listen", cfg.ListenAddr),
		zap.Int("max_clients", cfg.MaxClients),
		zap.Int("max_auth_failures", cfg.MaxAuthFailures),
		zap.Duration("auth_block_duration", cfg.AuthBlockDuration),
		zap.Strings("blocked_networks", cfg.BlockedNetworks))

	srv, err := server.NewServer(cfg, func(c server.ClientInfo, message string) error {
		logger.Info("Message",
			zap.String("client_name", c.Name),
			zap.String("client_id", c.ID),
			zap.String("text", message))
		return nil
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("Session server stopped")
}

func parseFlags() (*server.Config, string, error) {
	var (
		listenAddr        string
		token             string
		maxClients        int
		maxAuthFailures   int
		authBlockDuration time.Duration
		blockedNetworks   []string
		logLevel          string
		showVersion       bool
	)

	pflag.StringVar(&listenAddr, "listen", ":9527", "Address to listen for client connections")
	pflag.StringVar(&token, "token", "", "Authentication token (generated when empty)")
	pflag.IntVar(&maxClients, "max-clients", 100, "Maximum number of concurrent clients")
	pflag.IntVar(&maxAuthFailures, "max-auth-failures", 5, "Authentication failures before an IP is blocked")
	pflag.DurationVar(&authBlockDuration, "auth-block-duration", 5*time.Minute, "How long to block an IP after too many failures")
	pflag.StringSliceVar(&blockedNetworks, "blocked-networks", nil, "CIDR blocks whose clients are refused (comma-separated)")
	pflag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pflag.BoolVarP(&showVersion, "version", "v", false, "Show version information")

	pflag.Parse()

	if showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if token == "" {
		generated, err := common.GenerateToken(common.MinTokenLength)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate token: %w", err)
		}
		token = generated
		fmt.Printf("\nNo token provided. Generated token:\n   %s\n\nStart clients with --token=%q\n\n", token, token)
	}

	return &server.Config{
		ListenAddr:        listenAddr,
		Token:             []byte(token),
		MaxClients:        maxClients,
		MaxAuthFailures:   maxAuthFailures,
		AuthBlockDuration: authBlockDuration,
		BlockedNetworks:   blockedNetworks,
	}, logLevel, nil
}
