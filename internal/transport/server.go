package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/registry"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/util"
)

// Server accepts connections on one engine host. A single pump goroutine
// services the host for every connection it owns.
type Server struct {
	opts resolved
	reg  *registry.Registry[*Connection]

	mu      sync.Mutex
	host    engine.Host
	pump    pump
	live    map[uint32]*Connection // pump-owned view of the registry
	active  atomic.Bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// NewServer validates opts and prepares a server without binding anything.
func NewServer(opts Options) (*Server, error) {
	o, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	return &Server{
		opts: o,
		reg:  registry.New[*Connection](),
		live: make(map[uint32]*Connection),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Listen creates and starts a server.
func Listen(opts Options) (*Server, error) {
	s, err := NewServer(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start binds the host and launches the pump. A server can be started once.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.host != nil || s.stopped {
		s.mu.Unlock()
		return errors.New("transport: server already started")
	}

	host, err := s.opts.Engine.CreateHost(s.opts.Config.HostConfig(s.opts.policy, true))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create server host: %w", err)
	}
	s.host = host
	s.pump = newPump(host, s.opts)
	s.active.Store(true)
	s.mu.Unlock()

	go s.run()

	util.LogSuccess("listening on %s", s.URI())
	return nil
}

// Shutdown stops the pump, drops every live connection and releases the
// host. It blocks until the pump has exited and is safe to call repeatedly.
func (s *Server) Shutdown() {
	s.mu.Lock()
	started := s.host != nil
	if !s.stopped {
		s.stopped = true
		s.active.Store(false)
		close(s.stop)
		if !started {
			close(s.done)
		}
	}
	s.mu.Unlock()

	if started {
		<-s.done
	}
}

// Active reports whether the server is running.
func (s *Server) Active() bool { return s.active.Load() }

// Done is closed once the pump has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host == nil {
		return nil
	}
	return s.host.LocalAddr()
}

// URI describes the listening endpoint as rudp://host:port.
func (s *Server) URI() string {
	host := s.opts.Config.ListenAddress()
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.opts.Config.Port
	if a, ok := s.Addr().(*net.UDPAddr); ok && a != nil {
		port = a.Port
	}
	return "rudp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Len returns the number of live connections.
func (s *Server) Len() int { return s.reg.Len() }

// Counters returns the traffic totals of this server.
func (s *Server) Counters() *stats.Counters { return s.opts.Counters }

// Connections returns the live connections keyed by peer id.
func (s *Server) Connections() map[uint32]*Connection { return s.reg.Snapshot() }

// TryAccept returns the oldest connection not yet handed out, without
// waiting. It returns false when none is pending or the server is not active.
func (s *Server) TryAccept() (*Connection, bool) {
	if !s.Active() {
		return nil, false
	}
	return s.reg.TryAccept()
}

// Accept waits for the next connection not yet handed out.
func (s *Server) Accept(ctx context.Context) (*Connection, error) {
	if !s.Active() {
		return nil, ErrServerClosed
	}
	c, err := s.reg.Accept(ctx, s.opts.Config.ReceiveInterval)
	if errors.Is(err, registry.ErrClosed) {
		return nil, ErrServerClosed
	}
	return c, err
}

func (s *Server) run() {
	defer close(s.done)
	defer s.teardown()

	p := &s.pump
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		for id, c := range s.live {
			if c.isClosing() {
				c.peer.DisconnectNow()
				s.reap(id, "local disconnect")
				continue
			}
			p.flushOutbound(c)
		}

		ev, ok, err := p.poll()
		if err != nil {
			util.LogError("server: engine poll failed: %v", err)
			return
		}
		if ok {
			s.handle(ev)
		}

		if p.sampler.Due() {
			for _, c := range s.live {
				if c.IsConnected() {
					p.sample(c)
				}
			}
		}
	}
}

func (s *Server) handle(ev engine.Event) {
	id, ok := peerID(ev)
	if !ok {
		util.LogWarning("server: %s event without a peer handle ignored", ev.Type)
		discard(ev)
		return
	}

	switch ev.Type {
	case engine.EventConnect:
		s.admit(ev.Peer)

	case engine.EventDisconnect, engine.EventTimeout:
		discard(ev)
		s.reap(id, ev.Type.String())

	case engine.EventReceive:
		c, status := s.reg.Resolve(id)
		switch status {
		case registry.Live:
			s.pump.deliver(c, ev)
		case registry.Stale:
			util.LogWarning("server: packet from dead peer %d ignored", id)
			discard(ev)
		default:
			util.LogWarning("server: packet from unknown peer %d (%s) ignored, possible spoofing", id, ev.Peer.Addr())
			discard(ev)
		}

	default:
		discard(ev)
	}
}

// admit maps a newly connected peer to a Connection. A peer that cannot be
// mapped is dropped so no engine peer outlives its Connection.
func (s *Server) admit(peer engine.Peer) {
	c := newConnection(peer, true, s.opts)
	c.refreshAddr()
	c.markConnected()
	if err := s.reg.Admit(c.id, c); err != nil {
		util.LogError("server: cannot admit peer %d from %s: %v", c.id, c.RemoteAddr(), err)
		peer.DisconnectNow()
		return
	}
	s.live[c.id] = c
	s.opts.Counters.AddConn()
	util.LogInfo("new connection from %s (peer %d)", c.RemoteAddr(), c.id)
}

// reap unmaps a dead peer and closes its connection. Reaping a peer that is
// already gone only logs.
func (s *Server) reap(id uint32, reason string) {
	c, ok := s.reg.Remove(id)
	if !ok {
		util.LogDebug("server: peer %d already gone (%s)", id, reason)
		return
	}
	delete(s.live, id)
	c.finish()
	s.pump.forget(c)
	util.LogInfo("connection %d closed (%s)", id, reason)
}

// teardown drops every remaining connection, flushes, and releases the host.
func (s *Server) teardown() {
	s.active.Store(false)
	s.pump.sampler.Stop()
	s.host.Flush()

	for _, c := range s.reg.Close() {
		c.peer.DisconnectNow()
		c.finish()
		s.pump.forget(c)
	}
	clear(s.live)
	if err := s.host.Close(); err != nil {
		util.LogError("server: release host: %v", err)
	}
	util.LogInfo("server %s stopped", s.URI())
}
