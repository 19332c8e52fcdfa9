package transport

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/channel"
	"github.com/1ureka/rudp/internal/packet"
	"github.com/1ureka/rudp/internal/queue"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/util"
)

// Connection is one logical link to a remote peer. Send and Receive only
// touch the two message queues; every engine call happens on the event pump
// goroutine that owns the connection.
//
// A client Connection owns its engine host and releases it when it closes.
// A server-side Connection shares the server's host and never releases it.
type Connection struct {
	peer       engine.Peer
	id         uint32
	label      string
	serverSide bool

	policy       *channel.Policy
	guard        *packet.Guard
	recvInterval time.Duration

	state    atomic.Int32
	addr     atomic.Pointer[net.Addr]
	inbound  *queue.Queue[Message]
	outbound *queue.Queue[Message]
	snapshot stats.Cell

	readyOnce   sync.Once
	ready       chan struct{}
	closingOnce sync.Once
	closing     chan struct{}
	doneOnce    sync.Once
	done        chan struct{}
}

func newConnection(peer engine.Peer, serverSide bool, opts resolved) *Connection {
	c := &Connection{
		peer:         peer,
		id:           peer.ID(),
		serverSide:   serverSide,
		policy:       opts.policy,
		guard:        opts.guard,
		recvInterval: opts.Config.ReceiveInterval,
		inbound:      queue.New[Message](),
		outbound:     queue.New[Message](),
		ready:        make(chan struct{}),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.label = strconv.FormatUint(uint64(c.id), 10)
	if !serverSide {
		c.label = "client-" + c.label
	}
	return c
}

// ID returns the engine identity of the remote peer.
func (c *Connection) ID() uint32 { return c.id }

// State returns the current lifecycle stage.
func (c *Connection) State() State { return State(c.state.Load()) }

// IsServerSide reports whether the connection was accepted by a Server.
func (c *Connection) IsServerSide() bool { return c.serverSide }

// Ready is closed once the connection reaches Connected.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Done is closed once the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// IsConnected reports whether the connection is usable for sending.
func (c *Connection) IsConnected() bool { return c.State() == StateConnected }

// RemoteAddr returns the peer address last read by the pump, or nil once
// disconnecting.
func (c *Connection) RemoteAddr() net.Addr {
	if c.State() >= StateDisconnecting {
		return nil
	}
	if a := c.addr.Load(); a != nil {
		return *a
	}
	return nil
}

// Stats returns the most recent statistics sample, or the zero Snapshot if
// none has been taken yet.
func (c *Connection) Stats() stats.Snapshot { return c.snapshot.Load() }

// Send copies data and queues it for the channel. It reports whether the
// message was accepted; rejected messages are logged and dropped.
func (c *Connection) Send(ch int, data []byte) bool {
	if st := c.State(); st != StateConnected {
		util.LogDebug("send on %s connection %s dropped", st, c.label)
		return false
	}
	if _, err := c.policy.Resolve(ch); err != nil {
		util.LogWarning("send on connection %s dropped: %v", c.label, err)
		return false
	}
	if err := c.guard.Check(len(data)); err != nil {
		util.LogWarning("send on connection %s dropped: %v", c.label, err)
		return false
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	if !c.outbound.Push(Message{Channel: uint8(ch), Payload: payload}) {
		util.LogDebug("send on connection %s dropped: closing", c.label)
		return false
	}
	return true
}

// Receive returns the next inbound message. It waits in bounded steps of the
// configured receive interval, rechecking the queue each time, and returns
// io.EOF once the connection is disconnecting or closed.
func (c *Connection) Receive(ctx context.Context) (Message, error) {
	timer := time.NewTimer(c.recvInterval)
	defer timer.Stop()

	for {
		if c.State() >= StateDisconnecting {
			return Message{}, io.EOF
		}
		if m, ok := c.inbound.TryPop(); ok {
			return m, nil
		}

		select {
		case <-c.inbound.Ready():
		case <-timer.C:
		case <-c.closing:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.recvInterval)
	}
}

// TryReceive returns a queued message without waiting.
func (c *Connection) TryReceive() (Message, bool) {
	if c.State() >= StateDisconnecting {
		return Message{}, false
	}
	return c.inbound.TryPop()
}

// Disconnect starts a local shutdown. It never blocks: queued messages in
// both directions are discarded and the pump drops the peer on its next
// iteration. Calling it again has no effect.
func (c *Connection) Disconnect() {
	if c.beginClose() {
		util.LogDebug("connection %s disconnecting", c.label)
	}
}

// beginClose moves the connection to Disconnecting and drains both queues.
// It reports whether this call made the transition.
func (c *Connection) beginClose() bool {
	for {
		st := c.state.Load()
		if State(st) >= StateDisconnecting {
			return false
		}
		if c.state.CompareAndSwap(st, int32(StateDisconnecting)) {
			break
		}
	}
	c.closingOnce.Do(func() { close(c.closing) })
	c.inbound.Close()
	c.outbound.Close()
	return true
}

// The methods below are called by the pump only.

func (c *Connection) markConnected() bool {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return false
	}
	c.readyOnce.Do(func() { close(c.ready) })
	return true
}

func (c *Connection) refreshAddr() {
	if a := c.peer.Addr(); a != nil {
		c.addr.Store(&a)
	}
}

func (c *Connection) isClosing() bool {
	return c.State() >= StateDisconnecting
}

func (c *Connection) deliver(m Message) bool {
	return c.inbound.Push(m)
}

func (c *Connection) finish() {
	c.beginClose()
	c.state.Store(int32(StateClosed))
	c.doneOnce.Do(func() { close(c.done) })
}
