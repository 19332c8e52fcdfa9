package rtc

import (
	"errors"
	"sync"
	"sync/atomic"
)

var errDisposed = errors.New("rtc: packet read after dispose")

// packetPool recycles receive buffers sized for the host's packet limit.
type packetPool struct {
	size int
	pool sync.Pool
}

func newPacketPool(size int) *packetPool {
	p := &packetPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, 0, size)
		return &b
	}
	return p
}

// get copies data into a pooled buffer. Messages larger than the pool size
// get a buffer of their own, so the receive path can still measure and drop
// them.
func (p *packetPool) get(data []byte) *packet {
	var buf *[]byte
	if len(data) <= p.size {
		buf = p.pool.Get().(*[]byte)
		*buf = append((*buf)[:0], data...)
	} else {
		b := append([]byte(nil), data...)
		buf = &b
	}
	return &packet{buf: buf, pool: p}
}

// packet is a received message held in engine memory until disposed.
type packet struct {
	buf      *[]byte
	pool     *packetPool
	disposed atomic.Bool
}

func (p *packet) Len() int { return len(*p.buf) }

func (p *packet) CopyTo(dst []byte) (int, error) {
	if p.disposed.Load() {
		return 0, errDisposed
	}
	return copy(dst, *p.buf), nil
}

func (p *packet) Dispose() {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}
	if cap(*p.buf) == p.pool.size {
		p.pool.pool.Put(p.buf)
	}
}
