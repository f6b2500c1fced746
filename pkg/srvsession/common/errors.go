package common

import "errors"

// Standard errors for use with errors.Is.
var (
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNameInUse    = errors.New("client name already in use")
	ErrNotConnected = errors.New("not connected")
	ErrServerBusy   = errors.New("server busy")
	ErrPeerBlocked  = errors.New("peer address blocked")
)
