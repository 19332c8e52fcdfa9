// Package packet moves payloads out of engine-owned transient buffers into
// memory owned by the application.
package packet

import (
	"errors"
	"fmt"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/util"
)

// DefaultMaxSize is the default payload limit (16 KiB).
const DefaultMaxSize = 16 * 1024

var (
	// ErrOversize means the packet exceeded the configured maximum and was
	// disposed without being copied.
	ErrOversize = errors.New("packet exceeds maximum size")
	// ErrNotSet means the event carried no packet.
	ErrNotSet = errors.New("packet not set")
	// ErrCopyFailed means the engine buffer could not be copied. The buffer
	// has been disposed and the event must be discarded.
	ErrCopyFailed = errors.New("packet copy failed")
)

// Guard enforces a maximum payload size and performs the copy from engine
// memory. A Guard is stateless after construction and safe for concurrent use.
type Guard struct {
	max int
}

// NewGuard returns a Guard admitting payloads of at most max bytes.
// A non-positive max selects DefaultMaxSize.
func NewGuard(max int) *Guard {
	if max <= 0 {
		max = DefaultMaxSize
	}
	return &Guard{max: max}
}

// Max returns the payload limit in bytes.
func (g *Guard) Max() int { return g.max }

// Check reports whether a payload of n bytes would be accepted.
func (g *Guard) Check(n int) error {
	if n > g.max {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrOversize, n, g.max)
	}
	return nil
}

// Take copies pkt into a new buffer of exactly pkt.Len() bytes and disposes
// pkt. The engine buffer is always disposed, on every path, and is never
// touched again after disposal. The returned slice never aliases engine memory.
func (g *Guard) Take(pkt engine.Packet) (data []byte, err error) {
	if pkt == nil {
		return nil, ErrNotSet
	}

	n := pkt.Len()
	if err := g.Check(n); err != nil {
		pkt.Dispose()
		return nil, err
	}

	data, err = g.copyOut(pkt, n)
	pkt.Dispose()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// copyOut performs the copy, turning engine panics into ErrCopyFailed so a
// single bad packet cannot take the pump down.
func (g *Guard) copyOut(pkt engine.Packet, n int) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("%w: %v (%d byte packet, %d byte limit)", ErrCopyFailed, r, n, g.max)
		}
	}()

	data = make([]byte, n)
	copied, cerr := pkt.CopyTo(data)
	if cerr != nil {
		return nil, fmt.Errorf("%w: %v (%d byte packet, %d byte limit)", ErrCopyFailed, cerr, n, g.max)
	}
	if copied != n {
		return nil, fmt.Errorf("%w: short copy %d of %d bytes", ErrCopyFailed, copied, n)
	}

	if util.DebugEnabled() {
		util.LogDebug("copied %d byte packet out of engine memory", n)
	}
	return data, nil
}
