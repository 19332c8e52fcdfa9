package rtc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/util"
)

// peer is one PeerConnection and its channels.
type peer struct {
	id       uint32
	session  string
	host     *Host
	pc       *webrtc.PeerConnection
	channels []*dataChannel

	// fallback is the signaling address, used until ICE selects a pair.
	fallback net.Addr

	opened    atomic.Int32
	connected atomic.Bool
	dropped   atomic.Bool
	endOnce   sync.Once
	sig       atomic.Pointer[signaler]
}

func newPeer(h *Host, id uint32, session string, fallback net.Addr) (*peer, error) {
	pc, err := h.api.NewPeerConnection(h.engine.configuration())
	if err != nil {
		return nil, err
	}

	p := &peer{
		id:       id,
		session:  session,
		host:     h,
		pc:       pc,
		fallback: fallback,
		channels: make([]*dataChannel, len(h.cfg.Channels)),
	}

	for i, flag := range h.cfg.Channels {
		dc, err := newDataChannel(pc, uint16(i), flag)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		p.channels[i] = dc

		channelID := uint8(i)
		dc.raw.OnOpen(p.channelOpened)
		dc.raw.OnClose(func() { p.end(engine.EventDisconnect) })
		dc.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
			h.emit(engine.Event{
				Type:      engine.EventReceive,
				Peer:      p,
				ChannelID: channelID,
				Packet:    h.packets.get(msg.Data),
			})
		})
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer %d (%s): connection %s", p.id, p.session, state)
		switch state {
		case webrtc.PeerConnectionStateFailed:
			if p.connected.Load() {
				p.end(engine.EventTimeout)
			} else {
				p.end(engine.EventDisconnect)
			}
		case webrtc.PeerConnectionStateClosed:
			p.end(engine.EventDisconnect)
		}
	})

	return p, nil
}

// channelOpened reports the peer connected once every channel is open.
func (p *peer) channelOpened() {
	if int(p.opened.Add(1)) != len(p.channels) {
		return
	}
	if p.dropped.Load() {
		return
	}
	p.connected.Store(true)
	if s := p.sig.Load(); s != nil {
		s.close()
	}
	p.host.emit(engine.Event{Type: engine.EventConnect, Peer: p})
}

// end reports the peer gone, once. A peer dropped locally reports nothing.
func (p *peer) end(reason engine.EventType) {
	p.endOnce.Do(func() {
		p.host.forget(p.id)
		if !p.dropped.Load() {
			p.host.emit(engine.Event{Type: reason, Peer: p})
		}
		if s := p.sig.Load(); s != nil {
			s.close()
		}
		go func() { _ = p.pc.Close() }()
	})
}

func (p *peer) ID() uint32 { return p.id }

// Addr returns the remote address of the selected ICE pair, falling back to
// the signaling address.
func (p *peer) Addr() net.Addr {
	if sctp := p.pc.SCTP(); sctp != nil {
		if dtls := sctp.Transport(); dtls != nil {
			if ice := dtls.ICETransport(); ice != nil {
				if pair, err := ice.GetSelectedCandidatePair(); err == nil && pair != nil && pair.Remote != nil {
					return &net.UDPAddr{IP: net.ParseIP(pair.Remote.Address), Port: int(pair.Remote.Port)}
				}
			}
		}
	}
	return p.fallback
}

func (p *peer) Send(channelID uint8, data []byte, _ engine.DeliveryFlag) int {
	if int(channelID) >= len(p.channels) {
		return StatusBadChannel
	}
	if !p.connected.Load() || p.dropped.Load() {
		return StatusNotOpen
	}
	return p.channels[channelID].send(data)
}

// DisconnectNow closes the PeerConnection without a local event. The remote
// side sees its channels close.
func (p *peer) DisconnectNow() {
	p.dropped.Store(true)
	p.end(engine.EventDisconnect)
}

// Stats reads the nominated ICE candidate pair. SCTP hides retransmissions,
// so packet loss is always reported as zero.
func (p *peer) Stats() engine.PeerStats {
	var st engine.PeerStats
	for _, s := range p.pc.GetStats() {
		var pair webrtc.ICECandidatePairStats
		switch v := s.(type) {
		case webrtc.ICECandidatePairStats:
			pair = v
		case *webrtc.ICECandidatePairStats:
			pair = *v
		default:
			continue
		}
		if !pair.Nominated {
			continue
		}
		st.RoundTripTime = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		st.BytesSent = pair.BytesSent
		st.BytesReceived = pair.BytesReceived
		st.PacketsSent = uint64(pair.PacketsSent)
		break
	}
	return st
}

// drained reports whether every channel has handed its data to the socket.
func (p *peer) drained() bool {
	for _, c := range p.channels {
		if c.buffered() > 0 {
			return false
		}
	}
	return true
}
