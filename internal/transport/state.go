package transport

import "errors"

// State is the lifecycle stage of a Connection. It only moves forward:
// Connecting → Connected → Disconnecting → Closed. Connecting may skip
// straight to Disconnecting when the attempt is refused.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectionRefused is returned by Dial when the remote side refused or
	// never answered the connection attempt.
	ErrConnectionRefused = errors.New("transport: connection refused")
	// ErrServerClosed is returned by Accept once the server has shut down.
	ErrServerClosed = errors.New("transport: server closed")
	// ErrNoEngine is returned when Options carries no engine.
	ErrNoEngine = errors.New("transport: no engine configured")
)

// Message is one application payload together with the channel it travels on.
type Message struct {
	Channel uint8
	Payload []byte
}
