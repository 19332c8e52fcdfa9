// Package protocol defines the frames the demo host and client exchange over
// a connection. The transport itself is payload-agnostic.
package protocol

// Frame type constants.
const (
	TypeChat uint8 = 0x01 // Text line, echoed back by the host
	TypePing uint8 = 0x02 // Latency probe
	TypePong uint8 = 0x03 // Reply to a ping, carrying its Seq and SentAt
)

// HeaderSize is the fixed header size: Type(1) + Seq(4) + SentAt(8).
const HeaderSize = 13

// Frame is one demo message.
type Frame struct {
	Type    uint8  // TypeChat, TypePing, or TypePong
	Seq     uint32 // Per-sender sequence number
	SentAt  int64  // Sender clock in Unix nanoseconds
	Payload []byte // Only used for TypeChat
}

// TypeName returns a readable name for a frame type.
func TypeName(t uint8) string {
	switch t {
	case TypeChat:
		return "chat"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	default:
		return "unknown"
	}
}
