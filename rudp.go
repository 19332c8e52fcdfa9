// Package rudp multiplexes application messages over numbered channels of a
// reliable-UDP connection. Each channel has its own delivery guarantee
// (reliable, unreliable, unsequenced), chosen once when the configuration is
// built.
//
// A client dials a server:
//
//	conn, err := rudp.Dial(ctx, "127.0.0.1", 7777, rudp.Options{Config: rudp.DefaultConfig()})
//	conn.Send(0, []byte("hello"))
//	msg, err := conn.Receive(ctx)
//
// A server accepts connections:
//
//	srv, err := rudp.Listen(rudp.Options{Config: rudp.DefaultConfig()})
//	conn, err := srv.Accept(ctx)
//
// Send and Receive never touch the network. A single goroutine per host, the
// event pump, owns every engine call.
package rudp

import (
	"context"

	"github.com/1ureka/rudp/engine/rtc"
	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/transport"
)

type (
	// Conn is one logical link to a remote peer.
	Conn = transport.Connection
	// Server accepts connections on one host.
	Server = transport.Server
	// Message is one payload and the channel it travelled on.
	Message = transport.Message
	// Snapshot is a point-in-time read of a connection's engine counters.
	Snapshot = stats.Snapshot
	// Options configures Dial and Listen.
	Options = transport.Options
	// Config holds every transport setting.
	Config = config.Config
	// State is the lifecycle stage of a Conn.
	State = transport.State
)

const (
	StateConnecting    = transport.StateConnecting
	StateConnected     = transport.StateConnected
	StateDisconnecting = transport.StateDisconnecting
	StateClosed        = transport.StateClosed
)

var (
	ErrConnectionRefused = transport.ErrConnectionRefused
	ErrServerClosed      = transport.ErrServerClosed
)

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Dial connects to a server. Without an engine in opts the WebRTC engine is
// used.
func Dial(ctx context.Context, address string, port int, opts Options) (*Conn, error) {
	return transport.Dial(ctx, address, port, withEngine(opts))
}

// Listen starts a server. Without an engine in opts the WebRTC engine is used.
func Listen(opts Options) (*Server, error) {
	return transport.Listen(withEngine(opts))
}

func withEngine(opts Options) Options {
	if opts.Engine == nil {
		opts.Engine = rtc.New()
	}
	return opts
}
