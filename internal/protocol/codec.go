package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Frame.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Type
	binary.BigEndian.PutUint32(buf[1:5], f.Seq)
	binary.BigEndian.PutUint64(buf[5:13], uint64(f.SentAt))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Decode deserializes a Frame. The payload never aliases data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	f := &Frame{
		Type:   data[0],
		Seq:    binary.BigEndian.Uint32(data[1:5]),
		SentAt: int64(binary.BigEndian.Uint64(data[5:13])),
	}
	switch f.Type {
	case TypeChat, TypePing, TypePong:
	default:
		return nil, fmt.Errorf("unknown frame type 0x%02x", f.Type)
	}
	if len(data) > HeaderSize {
		f.Payload = make([]byte, len(data)-HeaderSize)
		copy(f.Payload, data[HeaderSize:])
	}
	return f, nil
}

// Pong builds the reply to a ping.
func Pong(ping *Frame) *Frame {
	return &Frame{Type: TypePong, Seq: ping.Seq, SentAt: ping.SentAt}
}
