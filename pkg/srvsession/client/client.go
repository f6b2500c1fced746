package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"go.uber.org/zap"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/proto"
	"github.com/tbxark/srvsession/pkg/srvsession/session"
)

var _ session.ServerInterface = (*Client)(nil)

const (
	handshakeTimeout = 5 * time.Second
	messageTimeout   = 10 * time.Second
)

// Client is a session.ServerInterface backed by a yamux session over TCP.
type Client struct {
	config *Config     // Client configuration
	logger *zap.Logger // Logger instance

	connectMu sync.Mutex // Serializes connect attempts

	mu            sync.Mutex
	session       *yamux.Session
	cancelConnect context.CancelFunc // Aborts the in-flight connect, if any
}

// NewClient creates a client for cfg. It does not dial until ConnectToServer.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		logger: common.OrNop(logger).With(zap.String("server", cfg.ServerAddr)),
	}
}

// ConnectToServer dials and handshakes unless a live session already exists.
// A server that is full or already has a client with this name yields
// (false, nil); transport failures yield a *ConnectionError. The dial and
// handshake run without holding the session lock, so IsServerConnected,
// SendMessage and Close stay responsive. Close aborts a pending connect.
func (c *Client) ConnectToServer(ctx context.Context) (bool, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.current() != nil {
		return true, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.session = nil
	c.cancelConnect = cancel
	c.mu.Unlock()

	sess, err := c.connect(ctx)

	c.mu.Lock()
	c.cancelConnect = nil
	if err == nil && ctx.Err() != nil {
		// Closed while the handshake was finishing.
		_ = sess.Close()
		err = ctx.Err()
	}
	if err == nil {
		c.session = sess
	}
	c.mu.Unlock()

	if err != nil {
		var hsErr *HandshakeError
		if errors.As(err, &hsErr) {
			if hsErr.IsDeclined() {
				c.logger.Warn("Server declined connection", zap.Error(err))
				return false, nil
			}
			c.logger.Error("Handshake rejected", zap.Error(err))
			return false, err
		}

		c.logger.Warn("Connection failed", zap.Error(err))
		return false, &ConnectionError{Addr: c.config.ServerAddr, Err: err}
	}

	return true, nil
}

// AConnectToServer runs ConnectToServer on its own goroutine.
func (c *Client) AConnectToServer(ctx context.Context) <-chan session.ConnectResult {
	out := make(chan session.ConnectResult, 1)
	go func() {
		defer close(out)
		ok, err := c.ConnectToServer(ctx)
		out <- session.ConnectResult{Connected: ok, Err: err}
	}()
	return out
}

// IsServerConnected pings the server. A failed ping closes the session.
func (c *Client) IsServerConnected(ctx context.Context) (bool, error) {
	sess := c.current()
	if sess == nil {
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	rtt, err := sess.Ping()
	if err != nil {
		c.logger.Info("Server ping failed, closing session", zap.Error(err))
		c.dropSession(sess)
		return false, nil
	}

	c.logger.Debug("Server ping", zap.Duration("rtt", rtt))
	return true, nil
}

// SendMessage delivers message on a fresh stream and waits for the ack.
func (c *Client) SendMessage(ctx context.Context, message string) error {
	sess := c.current()
	if sess == nil {
		return common.ErrNotConnected
	}

	stream, err := sess.OpenStream()
	if err != nil {
		return err
	}
	defer func() {
		_ = stream.Close()
	}()

	deadline := time.Now().Add(messageTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := stream.SetDeadline(deadline); err != nil {
		return err
	}

	if err := proto.WriteMessage(stream, message); err != nil {
		return err
	}

	status, err := proto.ReadAck(stream)
	if err != nil {
		return err
	}
	if status != proto.StatusOK {
		return &MessageRejectedError{Status: status}
	}

	c.logger.Debug("Message delivered", zap.Int("bytes", len(message)))
	return nil
}

// Close aborts a pending connect and tears down the current session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelConnect != nil {
		c.cancelConnect()
	}
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// connect dials and runs the HELLO handshake. The handshake ends at the
// earlier of ctx's deadline and handshakeTimeout, and canceling ctx aborts it.
func (c *Client) connect(ctx context.Context) (*yamux.Session, error) {
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.ServerAddr)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*yamux.Session, error) {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fail(err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	hello := proto.NewHello([]byte(c.config.Token), c.config.Name)
	if err := proto.WriteHello(conn, hello); err != nil {
		return fail(err)
	}

	resp, err := proto.ReadHelloResp(conn)
	if err != nil {
		return fail(err)
	}

	if !stop() {
		return fail(ctx.Err())
	}
	if err := common.ClearDeadline(conn); err != nil {
		return fail(err)
	}

	if resp.Status != proto.StatusOK {
		_ = conn.Close()
		return nil, &HandshakeError{
			Status:  resp.Status,
			Message: resp.Message,
		}
	}

	sess, err := yamux.Client(conn, common.YamuxConfig(c.logger))
	if err != nil {
		return fail(err)
	}

	c.logger.Info("Successfully connected to server", zap.String("name", c.config.Name))

	return sess, nil
}

func (c *Client) current() *yamux.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.session.IsClosed() {
		return nil
	}
	return c.session
}

func (c *Client) dropSession(sess *yamux.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = sess.Close()
	if c.session == sess {
		c.session = nil
	}
}
