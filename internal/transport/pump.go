package transport

import (
	"errors"
	"time"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/packet"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/util"
)

// pump is the engine-facing half shared by the client and server loops. It
// is only ever used from the goroutine that runs the loop.
type pump struct {
	host        engine.Host
	opts        resolved
	pollTimeout time.Duration
	sampler     *stats.Sampler
}

func newPump(host engine.Host, opts resolved) pump {
	return pump{
		host:        host,
		opts:        opts,
		pollTimeout: opts.Config.PollTimeout,
		sampler:     stats.NewSampler(opts.Clock, opts.Config.StatsInterval),
	}
}

// poll returns a pending event if there is one, otherwise waits up to the
// poll timeout for the next.
func (p *pump) poll() (engine.Event, bool, error) {
	if ev, ok := p.host.CheckEvents(); ok {
		return ev, true, nil
	}
	return p.host.Service(p.pollTimeout)
}

// flushOutbound hands queued messages of c to the engine in order. A busy
// engine leaves the message at the head of the queue for the next iteration,
// so a congested peer holds back only its own traffic. Any other non-zero
// status is logged and the message dropped; the connection stays open.
func (p *pump) flushOutbound(c *Connection) {
	c.outbound.Consume(func(m Message) bool {
		flag, err := c.policy.Resolve(int(m.Channel))
		if err != nil {
			util.LogWarning("outbound message for connection %s dropped: %v", c.label, err)
			return true
		}
		switch status := c.peer.Send(m.Channel, m.Payload, flag); status {
		case engine.StatusOK:
			p.opts.Counters.AddSent(len(m.Payload))
		case engine.StatusBusy:
			return false
		default:
			util.LogDebug("engine send to %s on channel %d failed with status %d", c.label, m.Channel, status)
		}
		return true
	})
}

// deliver copies the packet of a receive event into c's inbound queue. The
// packet is disposed on every path.
func (p *pump) deliver(c *Connection, ev engine.Event) {
	data, err := p.opts.guard.Take(ev.Packet)
	switch {
	case errors.Is(err, packet.ErrNotSet):
		util.LogWarning("receive event from %s carried no packet", c.label)
		return
	case errors.Is(err, packet.ErrOversize):
		util.LogWarning("packet from %s on channel %d dropped: %v", c.label, ev.ChannelID, err)
		return
	case err != nil:
		util.LogError("packet from %s on channel %d lost: %v", c.label, ev.ChannelID, err)
		return
	}

	if !c.deliver(Message{Channel: ev.ChannelID, Payload: data}) {
		util.LogDebug("packet from %s arrived after disconnect, ignored", c.label)
		return
	}
	p.opts.Counters.AddRecv(len(data))
}

// sample refreshes the statistics snapshot and remote address of c.
func (p *pump) sample(c *Connection) {
	c.refreshAddr()
	s := p.sampler.Sample(c.peer)
	c.snapshot.Store(s)
	p.opts.Metrics.Observe(c.label, s)
}

// forget removes c from exported metrics and counts it as closed.
func (p *pump) forget(c *Connection) {
	p.opts.Metrics.Forget(c.label)
	p.opts.Counters.RemoveConn()
}

// discard disposes whatever packet ev carries.
func discard(ev engine.Event) {
	if ev.Packet != nil {
		ev.Packet.Dispose()
	}
}

// peerID returns the id of the event's peer, or zero for a missing handle.
func peerID(ev engine.Event) (uint32, bool) {
	if ev.Peer == nil {
		return 0, false
	}
	return ev.Peer.ID(), true
}
