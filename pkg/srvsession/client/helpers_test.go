package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tbxark/srvsession/pkg/srvsession/server"
)

const testToken = "test-token-12345"

// testServer is a real server on a loopback port that records messages.
type testServer struct {
	*server.Server
	addr string

	mu       sync.Mutex
	messages []string
}

func (ts *testServer) Messages() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.messages...)
}

func startTestServer(t *testing.T, mutate func(*server.Config)) *testServer {
	t.Helper()

	cfg := &server.Config{
		ListenAddr:        "127.0.0.1:0",
		Token:             []byte(testToken),
		MaxClients:        10,
		MaxAuthFailures:   10,
		AuthBlockDuration: time.Minute,
	}
	if mutate != nil {
		mutate(cfg)
	}

	ts := &testServer{}
	srv, err := server.NewServer(cfg, func(_ server.ClientInfo, message string) error {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.messages = append(ts.messages, message)
		return nil
	}, zap.NewNop())
	require.NoError(t, err)
	ts.Server = srv

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	require.NoError(t, err)
	ts.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return ts
}

func testConfig(addr, name string) *Config {
	cfg := DefaultConfig()
	cfg.ServerAddr = addr
	cfg.Token = testToken
	cfg.Name = name
	cfg.DialTimeout = time.Second
	cfg.PollInterval = 20 * time.Millisecond
	return cfg
}

// unusedAddr returns a loopback address nothing is listening on.
func unusedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	assert.NoError(t, ln.Close())
	return addr
}

// silentListener accepts connections and never answers the HELLO.
func silentListener(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})
	return ln.Addr().String()
}
