package session

import "errors"

// ErrConnection marks connectivity failures reported by a ServerInterface.
// Boundary implementations wrap or match it so that Session can tell a
// failed connect apart from other errors.
var ErrConnection = errors.New("connection error")

const connectFailedMessage = "Failed to connect to server"

// Error is returned when a session could not connect and connection
// errors are not ignored.
type Error struct {
	Err error // connectivity cause, nil when the server just declined
}

func (e *Error) Error() string {
	return connectFailedMessage
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConnectFailed reports whether err is a session connect failure.
func IsConnectFailed(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
