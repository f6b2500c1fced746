package session

import "context"

// ServerInterface is the remote server a Session talks to.
type ServerInterface interface {
	ConnectToServer(ctx context.Context) (bool, error)
	// AConnectToServer starts a connect attempt and delivers exactly one
	// result on the returned channel.
	AConnectToServer(ctx context.Context) <-chan ConnectResult
	IsServerConnected(ctx context.Context) (bool, error)
	SendMessage(ctx context.Context, message string) error
}

// Database hands out transactional connections.
type Database interface {
	Get(ctx context.Context) (Connection, error)
}

// Connection is scoped to one transaction and must not be used after Close.
type Connection interface {
	Begin() error
	Put(key string, value []byte) error
	Commit() error
	Close() error
}

// Counter counts successful connects.
type Counter interface {
	Increment()
}

// ConnectResult is the outcome of an asynchronous connect.
type ConnectResult struct {
	Connected bool
	Err       error
}
