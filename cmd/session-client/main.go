package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tbxark/srvsession/pkg/srvsession/client"
	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/counter"
	"github.com/tbxark/srvsession/pkg/srvsession/store"
	"github.com/tbxark/srvsession/pkg/srvsession/version"
)

type options struct {
	cfg         *client.Config
	autoRestart bool
	maxRestarts int
	logLevel    string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to parse configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := initLogger(opts.logLevel)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg := opts.cfg
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	logger.Info("Session client starting",
		zap.String("server", cfg.ServerAddr),
		zap.String("name", cfg.Name),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("ignore_connection_errors", cfg.IgnoreConnectionErrors),
		zap.Int("messages", len(cfg.Messages)),
		zap.Bool("auto_restart", opts.autoRestart))

	cnt := counter.New()
	mopts := client.ManagerOptions{
		Config:            cfg,
		Counter:           cnt,
		AutoRestart:       opts.autoRestart,
		MaxRestartRetries: opts.maxRestarts,
	}

	if cfg.DatabasePath != "" {
		db, err := store.Open(cfg.DatabasePath, logger)
		if err != nil {
			logger.Fatal("Failed to open database", zap.String("path", cfg.DatabasePath), zap.Error(err))
		}
		defer func() {
			_ = db.Close()
		}()
		mopts.Database = db
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	manager := client.NewManager(logger)
	if err := manager.Start(ctx, mopts); err != nil {
		logger.Fatal("Failed to start session", zap.Error(err))
	}

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		if err := manager.StopAndWait(10 * time.Second); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	case <-manager.Done():
	}

	status := manager.GetStatus()
	logger.Info("Session client stopped",
		zap.String("status", status.Message),
		zap.Int("restarts", status.RestartCount),
		zap.Uint64("successful_connects", cnt.Count()))

	if status.LastError != nil && !opts.autoRestart {
		os.Exit(1)
	}
}

func parseFlags() (*options, error) {
	var (
		configPath  string
		server      string
		token       string
		name        string
		dialTimeout time.Duration
		poll        time.Duration
		ignoreErrs  bool
		database    string
		messages    []string
		showVersion bool
		opts        options
	)

	defaults := client.DefaultConfig()

	pflag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pflag.StringVar(&server, "server", "", "Server address (required)")
	pflag.StringVar(&token, "token", "", "Authentication token (required)")
	pflag.StringVar(&name, "name", "", "Client name (optional, defaults to hostname)")
	pflag.DurationVar(&dialTimeout, "dial-timeout", defaults.DialTimeout, "Timeout for dialing the server")
	pflag.DurationVar(&poll, "poll-interval", defaults.PollInterval, "Delay between server liveness checks")
	pflag.BoolVar(&ignoreErrs, "ignore-connection-errors", false, "Treat a failed connect as not connected instead of an error")
	pflag.StringVar(&database, "database", "", "bbolt file recording connect attempts (optional)")
	pflag.StringArrayVar(&messages, "message", nil, "Message to send once connected (repeatable)")
	pflag.BoolVar(&opts.autoRestart, "auto-restart", false, "Restart the session with backoff when it ends")
	pflag.IntVar(&opts.maxRestarts, "max-restarts", 0, "Maximum restarts with --auto-restart (0 = unlimited)")
	pflag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pflag.BoolVarP(&showVersion, "version", "v", false, "Show version information")

	pflag.Parse()

	if showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	cfg := defaults
	if configPath != "" {
		loaded, err := client.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Flags given on the command line override the config file.
	changed := pflag.CommandLine.Changed
	if changed("server") {
		cfg.ServerAddr = server
	}
	if changed("token") {
		cfg.Token = token
	}
	if changed("name") {
		cfg.Name = name
	}
	if changed("dial-timeout") {
		cfg.DialTimeout = dialTimeout
	}
	if changed("poll-interval") {
		cfg.PollInterval = poll
	}
	if changed("ignore-connection-errors") {
		cfg.IgnoreConnectionErrors = ignoreErrs
	}
	if changed("database") {
		cfg.DatabasePath = database
	}
	if changed("message") {
		cfg.Messages = messages
	}

	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("--server is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("--token is required")
	}

	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = hostname
	}

	opts.cfg = cfg
	return &opts, nil
}

func initLogger(levelName string) (*zap.Logger, error) {
	level, err := common.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	return common.NewLogger(level)
}
