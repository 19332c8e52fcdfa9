// Package rtc is the network engine. Every peer is a WebRTC PeerConnection
// carrying one pre-negotiated SCTP DataChannel per channel, and all ICE
// traffic of a host shares a single UDP socket. Peers find each other through
// a small WebSocket signaling endpoint served on the host's port.
package rtc

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rudp/engine"
)

const (
	HighWaterMark = 256 * 1024 // refuse sends when bufferedAmount exceeds this

	eventBufferSize       = 4096
	defaultConnectTimeout = 15 * time.Second
	flushWait             = 250 * time.Millisecond
)

var errNoAddress = errors.New("rtc: no address found")

// Status codes returned by Peer.Send besides engine.StatusOK and
// engine.StatusBusy.
const (
	StatusBadChannel   = -1
	StatusNotOpen      = -2
	StatusBackpressure = -3
	StatusSendFailed   = -4
)

// Engine creates WebRTC hosts.
type Engine struct {
	// ICEServers are handed to every PeerConnection. Empty means host
	// candidates only, which is all a LAN or loopback deployment needs.
	ICEServers []string
}

// New returns an engine without STUN servers.
func New() *Engine {
	return &Engine{}
}

// WithSTUN returns an engine that gathers server-reflexive candidates from
// the given STUN URLs.
func WithSTUN(urls ...string) *Engine {
	return &Engine{ICEServers: urls}
}

// DefaultSTUNServers are public STUN servers for peers behind NAT.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// CreateHost implements engine.Engine.
func (e *Engine) CreateHost(cfg engine.HostConfig) (engine.Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newHost(e, cfg)
}

func (e *Engine) configuration() webrtc.Configuration {
	var c webrtc.Configuration
	if len(e.ICEServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: e.ICEServers}}
	}
	return c
}

// newAPI builds the pion API for one host: every PeerConnection it creates
// multiplexes ICE over conn and applies the host's timeouts.
func newAPI(cfg engine.HostConfig, conn net.PacketConn, logs *loggerFactory) (*webrtc.API, func() error) {
	var s webrtc.SettingEngine
	s.LoggerFactory = logs

	mux := webrtc.NewICEUDPMux(logs.NewLogger("ice-mux"), conn)
	s.SetICEUDPMux(mux)
	s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	// Loopback candidates are needed to reach a peer on the same machine;
	// only a host bound to a specific routable address can do without.
	if ip := net.ParseIP(cfg.Address); ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		s.SetIncludeLoopbackCandidate(true)
	}
	if cfg.TimeoutMax > 0 {
		keepAlive := cfg.TimeoutBase / 2
		if keepAlive <= 0 {
			keepAlive = time.Second
		}
		s.SetICETimeouts(cfg.TimeoutBase, cfg.TimeoutMax, keepAlive)
	}

	return webrtc.NewAPI(webrtc.WithSettingEngine(s)), mux.Close
}

// listenUDP opens the socket shared by every peer of a host.
func listenUDP(cfg engine.HostConfig) (*net.UDPConn, error) {
	addr := &net.UDPAddr{Port: cfg.Port}
	if cfg.Address != "" {
		addr.IP = net.ParseIP(cfg.Address)
		if addr.IP == nil {
			ips, err := net.LookupIP(cfg.Address)
			if err != nil {
				return nil, fmt.Errorf("resolve bind address %q: %w", cfg.Address, err)
			}
			if len(ips) == 0 {
				return nil, fmt.Errorf("resolve bind address %q: %w", cfg.Address, errNoAddress)
			}
			addr.IP = ips[0]
		}
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("bind udp %s: %w", addr, err)
	}
	return conn, nil
}
