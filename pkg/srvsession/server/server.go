package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/yamux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/proto"
)

const (
	handshakeTimeout = 5 * time.Second
	streamTimeout    = 10 * time.Second
)

// MessageHandler is called for every MESSAGE a client sends. A non-nil error
// is reported back to the client as SERVER_INTERNAL.
type MessageHandler func(client ClientInfo, message string) error

type Server struct {
	cfg         *Config        // Server configuration
	handler     MessageHandler // Message sink
	registry    *Registry      // Connected clients by name
	limiter     *ClientLimiter // Concurrent client cap
	authLimiter *AuthLimiter   // Auth failure tracking per IP
	filter      *PeerFilter    // Blocked peer networks
	logger      *zap.Logger    // Logger instance

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{} // Connections with a running handler
	closing  bool
	handlers sync.WaitGroup
}

// NewServer creates a server. cfg must already be validated. A nil handler
// accepts and discards messages.
func NewServer(cfg *Config, handler MessageHandler, logger *zap.Logger) (*Server, error) {
	filter, err := NewPeerFilter(cfg.BlockedNetworks)
	if err != nil {
		return nil, err
	}

	if handler == nil {
		handler = func(ClientInfo, string) error { return nil }
	}

	return &Server{
		cfg:         cfg,
		handler:     handler,
		registry:    NewRegistry(),
		limiter:     NewClientLimiter(cfg.MaxClients),
		authLimiter: NewAuthLimiter(cfg.MaxAuthFailures, cfg.AuthBlockDuration),
		filter:      filter,
		logger:      common.OrNop(logger),
		conns:       make(map[net.Conn]struct{}),
	}, nil
}

// Start listens on the configured address and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts clients on listener until ctx is canceled. On shutdown it
// closes listener and every client connection, waits for their handlers and
// returns ctx.Err().
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Server listening", zap.String("address", listener.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")
		_ = listener.Close()
		s.closeConns()
		s.registry.CloseAll()
		return nil
	})

	g.Go(func() error {
		return s.acceptLoop(gctx, listener)
	})

	err := g.Wait()
	s.handlers.Wait()
	s.authLimiter.Close()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Clients lists connected clients.
func (s *Server) Clients() []ClientInfo {
	return s.registry.Clients()
}

// Disconnect drops the named client. It reports whether the client was connected.
func (s *Server) Disconnect(name string) bool {
	ok := s.registry.Disconnect(name)
	if ok {
		s.logger.Info("Client disconnected by server", zap.String("client_name", name))
	}
	return ok
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		s.logger.Info("Accepted new connection", zap.String("remote_addr", conn.RemoteAddr().String()))

		if !s.trackConn(conn) {
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.untrackConn(conn)
			s.handleClientConnection(conn)
		}()
	}
}

// trackConn registers conn for shutdown. It fails once the server is closing.
func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.handlers.Done()
}

// closeConns closes every tracked connection, including those still in the
// handshake, and refuses new ones.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// handleClientConnection runs one client through handshake, session and cleanup.
func (s *Server) handleClientConnection(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	ip := common.RemoteIP(conn)
	logger := s.logger.With(zap.String("remote_ip", ip))

	if err := s.filter.IsAllowed(ip); err != nil {
		logger.Warn("Peer blocked by filter", zap.Error(err))
		return
	}

	if !s.authLimiter.Allow(ip) {
		logger.Warn("Peer rate limited")
		sendErrorResponse(conn, proto.StatusAuthFail, "Too many authentication failures", logger)
		return
	}

	if !s.limiter.TryAcquire() {
		logger.Warn("Client limit reached", zap.Int("max_clients", s.cfg.MaxClients))
		sendErrorResponse(conn, proto.StatusServerBusy, "Server is full", logger)
		return
	}
	defer s.limiter.Release()

	if err := common.SetReadDeadline(conn, handshakeTimeout); err != nil {
		logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}

	hello, err := proto.ReadHello(conn)
	if err != nil {
		logger.Warn("Failed to read HELLO message", zap.Error(err))
		sendErrorResponse(conn, proto.StatusBadRequest, "Invalid HELLO message", logger)
		return
	}

	if !common.TokenEqual(hello.Token, s.cfg.Token) {
		blocked := s.authLimiter.RecordFailure(ip)
		logger.Warn("Token mismatch - authentication failed", zap.Bool("blocked", blocked))
		sendErrorResponse(conn, proto.StatusAuthFail, "Authentication failed", logger)
		return
	}
	s.authLimiter.Reset(ip)

	clientID := uuid.New().String()
	name := hello.Name
	if name == "" {
		name = clientID
	}
	logger = logger.With(zap.String("client_id", clientID), zap.String("client_name", name))

	release, err := s.registry.ReserveName(name)
	if err != nil {
		logger.Warn("Name reservation failed", zap.Error(err))
		sendErrorResponse(conn, proto.StatusNameInUse, "Client name already in use", logger)
		return
	}
	defer release()

	resp := proto.HelloResp{
		Version: proto.Version,
		Status:  proto.StatusOK,
		Message: "Connection accepted",
	}

	if err := common.SetWriteDeadline(conn, handshakeTimeout); err != nil {
		logger.Error("Failed to set write deadline", zap.Error(err))
		return
	}

	if err := proto.WriteHelloResp(conn, resp); err != nil {
		logger.Error("Failed to write HELLO_RESP", zap.Error(err))
		return
	}

	if err := common.ClearDeadline(conn); err != nil {
		logger.Error("Failed to clear deadline", zap.Error(err))
		return
	}

	sess, err := yamux.Server(conn, common.YamuxConfig(logger))
	if err != nil {
		logger.Error("Failed to create yamux session", zap.Error(err))
		return
	}

	info := ClientInfo{
		ID:          clientID,
		Name:        name,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
	if err := s.registry.BindSession(name, sess, info); err != nil {
		logger.Error("Failed to bind session", zap.Error(err))
		_ = sess.Close()
		return
	}

	logger.Info("Client session established", zap.Int("slots_available", s.limiter.Available()))

	for {
		stream, err := sess.AcceptStream()
		if err != nil {
			logger.Info("Session closed", zap.Error(err))
			break
		}
		go s.handleStream(stream, info, logger)
	}

	logger.Info("Cleanup completed")
}

// handleStream reads one MESSAGE, passes it to the handler and acknowledges it.
func (s *Server) handleStream(stream net.Conn, client ClientInfo, logger *zap.Logger) {
	defer func() {
		_ = stream.Close()
	}()

	if err := stream.SetDeadline(time.Now().Add(streamTimeout)); err != nil {
		logger.Error("Failed to set stream deadline", zap.Error(err))
		return
	}

	message, err := proto.ReadMessage(stream)
	if err != nil {
		logger.Warn("Failed to read MESSAGE", zap.Error(err))
		_ = proto.WriteAck(stream, proto.StatusBadRequest)
		return
	}

	status := uint8(proto.StatusOK)
	if err := s.handler(client, message); err != nil {
		logger.Error("Message handler failed", zap.Error(err))
		status = proto.StatusServerInternal
	} else {
		logger.Debug("Message received", zap.Int("bytes", len(message)))
	}

	if err := proto.WriteAck(stream, status); err != nil {
		logger.Warn("Failed to write ACK", zap.Error(err))
	}
}

func sendErrorResponse(conn net.Conn, status uint8, message string, logger *zap.Logger) {
	resp := proto.HelloResp{
		Version: proto.Version,
		Status:  status,
		Message: message,
	}

	if err := common.SetWriteDeadline(conn, handshakeTimeout); err != nil {
		logger.Error("Failed to set write deadline", zap.Error(err))
		return
	}

	if err := proto.WriteHelloResp(conn, resp); err != nil {
		logger.Error("Failed to write error response", zap.Uint8("status", status), zap.Error(err))
	}
}
