package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/util"
)

// Dial creates a client host, connects to address:port and blocks until the
// connection is established, refused, or ctx ends. The returned Connection
// owns the host: closing it releases the host.
func Dial(ctx context.Context, address string, port int, opts Options) (*Connection, error) {
	o, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	host, err := o.Engine.CreateHost(o.Config.HostConfig(o.policy, false))
	if err != nil {
		return nil, fmt.Errorf("create client host: %w", err)
	}

	peer, err := host.Connect(address, port)
	if err != nil {
		_ = host.Close()
		return nil, fmt.Errorf("connect to %s: %w", net.JoinHostPort(address, strconv.Itoa(port)), err)
	}

	c := newConnection(peer, false, o)
	cp := &clientPump{pump: newPump(host, o), conn: c}
	go cp.run()

	util.LogInfo("connecting to %s", net.JoinHostPort(address, strconv.Itoa(port)))

	select {
	case <-c.ready:
		return c, nil
	case <-c.closing:
		<-c.done
		return nil, ErrConnectionRefused
	case <-ctx.Done():
		c.Disconnect()
		<-c.done
		return nil, ctx.Err()
	}
}

// clientPump drives a single client connection and its private host.
type clientPump struct {
	pump
	conn *Connection

	// remoteGone is set once the engine reported the peer dead, so teardown
	// must not touch it again.
	remoteGone bool
}

func (p *clientPump) run() {
	c := p.conn
	defer p.teardown()

	for !c.isClosing() {
		p.flushOutbound(c)

		ev, ok, err := p.poll()
		if err != nil {
			util.LogError("client %s: engine poll failed: %v", c.label, err)
			c.beginClose()
			break
		}
		if ok {
			p.handle(ev)
		}

		if p.sampler.Due() && c.IsConnected() {
			p.sample(c)
		}
	}
}

func (p *clientPump) handle(ev engine.Event) {
	c := p.conn
	id, ok := peerID(ev)
	if !ok || id != c.id {
		util.LogWarning("client %s: %s event from unexpected peer %d ignored, possible spoofing", c.label, ev.Type, id)
		discard(ev)
		return
	}

	switch ev.Type {
	case engine.EventConnect:
		c.refreshAddr()
		if c.markConnected() {
			p.opts.Counters.AddConn()
			util.LogSuccess("connected to %s", c.RemoteAddr())
		}

	case engine.EventDisconnect, engine.EventTimeout:
		discard(ev)
		p.remoteGone = true
		if c.State() == StateConnecting {
			util.LogWarning("connection to %s refused", c.peer.Addr())
		} else {
			util.LogInfo("disconnected from %s (%s)", c.peer.Addr(), ev.Type)
		}
		c.beginClose()

	case engine.EventReceive:
		p.deliver(c, ev)

	default:
		discard(ev)
	}
}

// teardown flushes and releases the host. A client owns its host, so it is
// always closed here.
func (p *clientPump) teardown() {
	c := p.conn
	p.sampler.Stop()

	p.host.Flush()
	if !p.remoteGone {
		c.peer.DisconnectNow()
	}
	if err := p.host.Close(); err != nil {
		util.LogError("client %s: release host: %v", c.label, err)
	}

	select {
	case <-c.ready:
		p.forget(c)
	default:
	}
	c.finish()
	util.LogDebug("client %s closed", c.label)
}
