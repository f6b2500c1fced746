package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session runs one connect / send / poll workflow against a ServerInterface.
type Session struct {
	mu sync.Mutex

	id      string
	iface   ServerInterface
	db      Database
	counter Counter
	logger  *zap.Logger

	pollInterval           time.Duration
	ignoreConnectionErrors bool
	onConnected            func(ctx context.Context, s *Session) error
	sleep                  func(ctx context.Context, d time.Duration) error

	connected         bool
	activeConnections int
	state             State
}

// New creates a Session that delegates to iface.
func New(iface ServerInterface, opts ...Option) *Session {
	s := &Session{
		id:           uuid.New().String(),
		iface:        iface,
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
		sleep:        sleepContext,
		state:        StateNotConnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", s.id))
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Connected reports whether the last connect succeeded and the server has
// not been seen disconnected since.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ActiveConnections returns the number of connect attempts made.
func (s *Session) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeConnections
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetIgnoreConnectionErrors(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreConnectionErrors = ignore
}

// Connect makes one attempt to connect to the server.
func (s *Session) Connect(ctx context.Context) (bool, error) {
	attempt := s.beginAttempt()

	if err := s.recordAttempt(ctx, attempt); err != nil {
		return false, err
	}

	ok, err := s.iface.ConnectToServer(ctx)
	return s.finishConnect(ok, err)
}

// AConnect is Connect with the server call awaited on a separate goroutine.
// The returned channel yields one result and is then closed.
func (s *Session) AConnect(ctx context.Context) <-chan ConnectResult {
	out := make(chan ConnectResult, 1)
	attempt := s.beginAttempt()

	go func() {
		defer close(out)

		if err := s.recordAttempt(ctx, attempt); err != nil {
			out <- ConnectResult{Err: err}
			return
		}

		pending := s.iface.AConnectToServer(ctx)
		var res ConnectResult
		select {
		case r, ok := <-pending:
			if !ok {
				r = ConnectResult{Err: fmt.Errorf("%w: connect result channel closed", ErrConnection)}
			}
			res = r
		case <-ctx.Done():
			// The attempt is abandoned; take its single result so the
			// interface never blocks delivering it.
			go func() { <-pending }()
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			out <- ConnectResult{Err: ctx.Err()}
			return
		}

		connected, err := s.finishConnect(res.Connected, res.Err)
		out <- ConnectResult{Connected: connected, Err: err}
	}()

	return out
}

// Start connects once, then polls the server until it reports that it is no
// longer connected.
func (s *Session) Start(ctx context.Context) error {
	connected, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	if !connected {
		s.logger.Info("Not connected, session finished")
		return nil
	}

	if s.onConnected != nil {
		if err := s.onConnected(ctx, s); err != nil {
			return err
		}
	}

	return s.poll(ctx)
}

// SendMessages sends each message in order, stopping at the first failure.
func (s *Session) SendMessages(ctx context.Context, messages []string) error {
	for i, message := range messages {
		if err := s.iface.SendMessage(ctx, message); err != nil {
			s.logger.Warn("Failed to send message", zap.Int("index", i), zap.Error(err))
			return fmt.Errorf("send message %d: %w", i, err)
		}
	}
	s.logger.Debug("Messages sent", zap.Int("count", len(messages)))
	return nil
}

func (s *Session) poll(ctx context.Context) error {
	s.setState(StatePolling)
	s.logger.Info("Polling server connection", zap.Duration("interval", s.pollInterval))

	for {
		alive, err := s.iface.IsServerConnected(ctx)
		if err != nil {
			s.disconnect()
			return fmt.Errorf("check server connection: %w", err)
		}
		if !alive {
			s.disconnect()
			s.logger.Info("Server disconnected")
			return nil
		}

		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
}

func (s *Session) beginAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeConnections++
	return s.activeConnections
}

// recordAttempt writes one record per connect attempt. The connection is
// released before returning on every path.
func (s *Session) recordAttempt(ctx context.Context, attempt int) (err error) {
	if s.db == nil {
		return nil
	}

	conn, err := s.db.Get(ctx)
	if err != nil {
		return fmt.Errorf("get database connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("release database connection: %w", cerr)
		}
	}()

	if err := conn.Begin(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	key := fmt.Sprintf("%s/%d", s.id, attempt)
	if err := conn.Put(key, []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("write connect record: %w", err)
	}

	if err := conn.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Session) finishConnect(ok bool, err error) (bool, error) {
	if err != nil && !errors.Is(err, ErrConnection) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.logger.Error("Connect failed", zap.Error(err))
		return false, err
	}
	if err != nil {
		ok = false
	}

	s.mu.Lock()
	s.connected = ok
	ignore := s.ignoreConnectionErrors
	if ok {
		s.state = StateConnected
	}
	s.mu.Unlock()

	if ok {
		if s.counter != nil {
			s.counter.Increment()
		}
		s.logger.Info("Connected to server")
		return true, nil
	}

	if ignore {
		s.logger.Warn("Connection failed, ignoring", zap.Error(err))
		return false, nil
	}
	return false, &Error{Err: err}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.state = StateDisconnected
}
