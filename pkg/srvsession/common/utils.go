package common

import (
	"crypto/subtle"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TokenEqual performs constant-time comparison of two tokens.
func TokenEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func SetReadDeadline(conn net.Conn, timeout time.Duration) error {
	return conn.SetReadDeadline(time.Now().Add(timeout))
}

func SetWriteDeadline(conn net.Conn, timeout time.Duration) error {
	return conn.SetWriteDeadline(time.Now().Add(timeout))
}

func ClearDeadline(conn net.Conn) error {
	return conn.SetDeadline(time.Time{})
}

// RemoteIP returns the host part of a connection's remote address.
func RemoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ValidateAddr checks that addr is a host:port pair with a numeric port,
// IPv6 hosts in brackets. Port 0 is accepted only when allowZeroPort is set.
func ValidateAddr(addr string, allowZeroPort bool) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port in address %q", addr)
	}
	if port == 0 && !allowZeroPort {
		return fmt.Errorf("port 0 is not allowed in address %q", addr)
	}
	return nil
}
