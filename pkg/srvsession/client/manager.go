package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/session"
)

// ManagerOptions contains configuration for starting the session manager.
type ManagerOptions struct {
	Config   *Config          // Client configuration
	Database session.Database // Optional: records connect attempts
	Counter  session.Counter  // Optional: counts successful connects

	// Optional: Auto-restart configuration
	AutoRestart       bool          // Enable automatic restart when a session ends
	RestartDelay      time.Duration // Initial delay between restarts (default: 2s)
	MaxRestartDelay   time.Duration // Upper bound for the backoff delay (default: 1m)
	MaxRestartRetries int           // Maximum restart attempts (0 = unlimited)
}

// ManagerStatus represents the current state of the session manager.
type ManagerStatus struct {
	Running      bool          // Whether a session loop is running
	ServerAddr   string        // Server being connected to
	SessionID    string        // ID of the current or last session
	SessionState session.State // State of the current or last session
	Message      string        // Status message
	StartTime    time.Time     // When the manager was started
	RestartCount int           // Number of times restarted
	LastError    error         // Last error encountered
	AutoRestart  bool          // Whether auto-restart is enabled
	ShuttingDown bool          // Whether graceful shutdown is in progress
}

// Manager runs sessions against one server, optionally restarting them with
// exponential backoff when they end.
type Manager struct {
	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	running      bool
	serverAddr   string
	status       string
	logger       *zap.Logger
	startTime    time.Time
	restartCount int
	lastError    error
	shuttingDown bool
	autoRestart  bool
	current      *session.Session
}

// NewManager creates a new Manager instance.
// If logger is nil, a no-op logger will be used.
func NewManager(logger *zap.Logger) *Manager {
	done := make(chan struct{})
	close(done)
	return &Manager{
		logger: common.OrNop(logger),
		done:   done,
	}
}

// Start starts the session loop with the given options. The provided context
// controls the loop lifetime. If the manager is already running, Start is a no-op.
func (m *Manager) Start(ctx context.Context, opts ManagerOptions) error {
	if opts.Config == nil {
		return errors.New("config is required")
	}

	if err := opts.Config.Validate(); err != nil {
		m.setStatus(fmt.Sprintf("Configuration error: %v", err))
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Info("Manager already running", zap.String("server", opts.Config.ServerAddr))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.shuttingDown = false
	m.serverAddr = opts.Config.ServerAddr
	m.autoRestart = opts.AutoRestart
	m.restartCount = 0
	m.lastError = nil
	m.current = nil
	m.startTime = time.Now()
	m.status = "Starting"
	done := m.done
	m.mu.Unlock()

	m.logger.Info("Starting session manager",
		zap.String("server", opts.Config.ServerAddr),
		zap.String("name", opts.Config.Name),
		zap.Bool("auto_restart", opts.AutoRestart))

	go func() {
		defer close(done)
		defer cancel()

		if opts.AutoRestart {
			m.runWithAutoRestart(runCtx, opts)
		} else {
			m.runOnce(runCtx, opts)
		}

		m.mu.Lock()
		m.running = false
		m.shuttingDown = false
		m.mu.Unlock()
	}()

	return nil
}

// runOnce runs a single session to completion.
func (m *Manager) runOnce(ctx context.Context, opts ManagerOptions) {
	err := m.runSession(ctx, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("Session stopped with error", zap.Error(err))
		m.recordError(err)
		return
	}

	m.logger.Info("Session finished")
	m.setStatus("Stopped")
}

// runWithAutoRestart restarts sessions with exponential backoff until the
// context is canceled, the retry budget is spent or authentication fails.
func (m *Manager) runWithAutoRestart(ctx context.Context, opts ManagerOptions) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RestartDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = 2 * time.Second
	}
	b.MaxInterval = opts.MaxRestartDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Minute
	}
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := 0
	for {
		if attempt > 0 {
			m.logger.Info("Restarting session", zap.Int("attempt", attempt+1))
			m.mu.Lock()
			m.restartCount++
			m.mu.Unlock()
		}

		err := m.runSession(ctx, opts)

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			m.logger.Info("Session stopped gracefully")
			m.setStatus("Stopped")
			return
		}

		if err != nil {
			m.logger.Error("Session stopped with error", zap.Error(err))
			m.recordError(err)
		}

		var hsErr *HandshakeError
		if errors.As(err, &hsErr) && hsErr.IsAuthFail() {
			m.logger.Warn("Authentication failed, stopping auto-restart", zap.Error(err))
			m.setStatus(fmt.Sprintf("Authentication failed: %v", err))
			return
		}

		attempt++
		if opts.MaxRestartRetries > 0 && attempt > opts.MaxRestartRetries {
			m.logger.Warn("Max restart retries reached", zap.Int("max_retries", opts.MaxRestartRetries))
			m.setStatus(fmt.Sprintf("Max restart retries (%d) reached", opts.MaxRestartRetries))
			return
		}

		// A session that got as far as polling was healthy; start the
		// backoff over.
		if m.lastSessionState() == session.StateDisconnected {
			b.Reset()
		}
		delay := b.NextBackOff()

		m.logger.Info("Waiting before restart", zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			m.setStatus("Stopped")
			return
		case <-time.After(delay):
		}
	}
}

func (m *Manager) runSession(ctx context.Context, opts ManagerOptions) error {
	cfg := opts.Config
	c := NewClient(cfg, m.logger)
	defer func() {
		_ = c.Close()
	}()

	sessOpts := []session.Option{
		session.WithLogger(m.logger),
		session.WithPollInterval(cfg.PollInterval),
		session.WithIgnoreConnectionErrors(cfg.IgnoreConnectionErrors),
		session.WithOnConnected(func(ctx context.Context, s *session.Session) error {
			if len(cfg.Messages) == 0 {
				return nil
			}
			return s.SendMessages(ctx, cfg.Messages)
		}),
	}
	if opts.Database != nil {
		sessOpts = append(sessOpts, session.WithDatabase(opts.Database))
	}
	if opts.Counter != nil {
		sessOpts = append(sessOpts, session.WithCounter(opts.Counter))
	}

	sess := session.New(c, sessOpts...)

	m.mu.Lock()
	m.current = sess
	m.status = "Connecting"
	m.mu.Unlock()

	return sess.Start(ctx)
}

// Stop cancels the running session loop. It returns immediately; use
// StopAndWait to wait for shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Info("Manager not running, nothing to stop")
		return
	}

	m.shuttingDown = true
	cancel := m.cancel
	m.status = "Stopping..."
	m.mu.Unlock()

	m.logger.Info("Initiating graceful shutdown")

	if cancel != nil {
		cancel()
	}
}

// StopAndWait stops the manager and waits for the loop to exit.
// Returns an error if shutdown times out.
func (m *Manager) StopAndWait(timeout time.Duration) error {
	m.Stop()

	select {
	case <-m.Done():
		m.logger.Info("Graceful shutdown completed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// Done is closed when the session loop exits.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// GetStatus returns the current status of the manager.
func (m *Manager) GetStatus() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ManagerStatus{
		Running:      m.running,
		ServerAddr:   m.serverAddr,
		Message:      m.status,
		StartTime:    m.startTime,
		RestartCount: m.restartCount,
		LastError:    m.lastError,
		AutoRestart:  m.autoRestart,
		ShuttingDown: m.shuttingDown,
	}
	if m.current != nil {
		st.SessionID = m.current.ID()
		st.SessionState = m.current.State()
	}
	return st
}

// IsRunning returns true if the session loop is running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetRestartCount returns the number of times a session has been restarted.
func (m *Manager) GetRestartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restartCount
}

// GetLastError returns the last error encountered by a session.
func (m *Manager) GetLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

func (m *Manager) lastSessionState() session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return session.StateNotConnected
	}
	return m.current.State()
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = err
	m.status = fmt.Sprintf("Error: %v", err)
}

func (m *Manager) setStatus(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = message
}
