package session

// State is the lifecycle position of a Session.
type State int

const (
	StateNotConnected State = iota
	StateConnected
	StatePolling
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StatePolling:
		return "POLLING"
	case StateDisconnected:
		return "DISCONNECTED"
	}
	return "UNKNOWN"
}
