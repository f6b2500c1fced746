package client

import (
	"fmt"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/proto"
	"github.com/tbxark/srvsession/pkg/srvsession/session"
)

// HandshakeError represents a HELLO handshake rejection.
type HandshakeError struct {
	Status  uint8  // Error status code
	Message string // Error message
}

func (e *HandshakeError) Error() string {
	statusName := proto.StatusName(e.Status)
	if e.Message != "" {
		return statusName + ": " + e.Message
	}
	return statusName
}

func (e *HandshakeError) IsAuthFail() bool {
	return e.Status == proto.StatusAuthFail
}

// Is maps the status onto the common sentinels.
func (e *HandshakeError) Is(target error) bool {
	switch e.Status {
	case proto.StatusAuthFail:
		return target == common.ErrAuthFailed
	case proto.StatusNameInUse:
		return target == common.ErrNameInUse
	case proto.StatusServerBusy:
		return target == common.ErrServerBusy
	}
	return false
}

// IsDeclined reports whether the server is reachable but turned the client
// away for now (name taken or server full).
func (e *HandshakeError) IsDeclined() bool {
	return e.Status == proto.StatusNameInUse || e.Status == proto.StatusServerBusy
}

// ConnectionError is a dial or transport failure while connecting. It
// matches session.ErrConnection.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == session.ErrConnection
}

// MessageRejectedError is returned when the server acknowledges a message
// with a non-OK status.
type MessageRejectedError struct {
	Status uint8
}

func (e *MessageRejectedError) Error() string {
	return "message rejected: " + proto.StatusName(e.Status)
}
