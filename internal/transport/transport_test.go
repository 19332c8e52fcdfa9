package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/engine/loopback"
	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/stats"
)

const waitFor = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Port = 0
	cfg.StatsInterval = 0
	cfg.PollTimeout = 2 * time.Millisecond
	cfg.ReceiveInterval = time.Millisecond
	return cfg
}

func startServer(t *testing.T, n *loopback.Network, mutate func(*Options)) *Server {
	t.Helper()
	opts := Options{Config: testConfig(), Engine: n}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := Listen(opts)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func serverPort(s *Server) int {
	return s.Addr().(*net.UDPAddr).Port
}

func dial(t *testing.T, n *loopback.Network, s *Server, mutate func(*Options)) *Connection {
	t.Helper()
	c, err := tryDial(n, s, mutate)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func tryDial(n *loopback.Network, s *Server, mutate func(*Options)) (*Connection, error) {
	opts := Options{Config: testConfig(), Engine: n}
	if mutate != nil {
		mutate(&opts)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return Dial(ctx, "127.0.0.1", serverPort(s), opts)
}

func accept(t *testing.T, s *Server) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := s.Accept(ctx)
	require.NoError(t, err)
	return c
}

func receive(t *testing.T, c *Connection) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	m, err := c.Receive(ctx)
	require.NoError(t, err)
	return m
}

func TestRoundTripOnEveryChannel(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	client := dial(t, n, s, nil)
	peer := accept(t, s)

	assert.True(t, client.IsConnected())
	assert.True(t, peer.IsServerSide())
	assert.False(t, client.IsServerSide())
	assert.NotNil(t, client.RemoteAddr())

	require.True(t, client.Send(0, []byte("hello")))
	require.True(t, client.Send(1, []byte("world")))

	got := map[uint8]string{}
	for range 2 {
		m := receive(t, peer)
		got[m.Channel] = string(m.Payload)
	}
	assert.Equal(t, map[uint8]string{0: "hello", 1: "world"}, got)

	require.True(t, peer.Send(1, []byte("echo")))
	m := receive(t, client)
	assert.Equal(t, uint8(1), m.Channel)
	assert.Equal(t, "echo", string(m.Payload))

	assert.Eventually(t, func() bool { return s.Counters().BytesRecv.Load() == 10 }, waitFor, time.Millisecond)
	assert.EqualValues(t, 1, s.Counters().Live())
}

func TestSendCopiesCallerBuffer(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	client := dial(t, n, s, nil)
	peer := accept(t, s)

	buf := []byte("abc")
	require.True(t, client.Send(0, buf))
	buf[0] = 'X'

	assert.Equal(t, "abc", string(receive(t, peer).Payload))
}

func TestSameChannelKeepsOrder(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	client := dial(t, n, s, nil)
	peer := accept(t, s)

	require.True(t, client.Send(0, []byte{1, 2, 3}))
	require.True(t, client.Send(1, []byte{9}))

	first := receive(t, peer)
	assert.Equal(t, uint8(0), first.Channel)
	assert.Equal(t, []byte{1, 2, 3}, first.Payload)

	second := receive(t, peer)
	assert.Equal(t, uint8(1), second.Channel)
	assert.Equal(t, []byte{9}, second.Payload)

	for i := range 50 {
		require.True(t, client.Send(0, []byte{byte(i)}))
	}
	for i := range 50 {
		assert.Equal(t, []byte{byte(i)}, receive(t, peer).Payload)
	}
}

func TestSendRejectsInvalidInput(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, func(o *Options) { o.Config.MaxPacketSize = 8 })
	client := dial(t, n, s, func(o *Options) { o.Config.MaxPacketSize = 8 })

	assert.False(t, client.Send(2, []byte("x")), "channel past the policy")
	assert.False(t, client.Send(-1, []byte("x")))
	assert.False(t, client.Send(255, []byte("x")))
	assert.False(t, client.Send(0, bytes.Repeat([]byte{1}, 9)), "payload over the limit")
	assert.Zero(t, client.outbound.Len())

	assert.True(t, client.Send(0, bytes.Repeat([]byte{1}, 8)))
}

func TestSendBeforeConnected(t *testing.T) {
	o, err := Options{Config: testConfig(), Engine: loopback.NewNetwork()}.resolve()
	require.NoError(t, err)

	c := newConnection(&stubPeer{id: 3}, false, o)
	assert.Equal(t, StateConnecting, c.State())
	assert.False(t, c.Send(0, []byte("early")))
	assert.Zero(t, c.outbound.Len())

	_, ok := c.TryReceive()
	assert.False(t, ok)
}

func TestOversizeInboundDiscarded(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, func(o *Options) { o.Config.MaxPacketSize = 1024 })
	client := dial(t, n, s, func(o *Options) { o.Config.MaxPacketSize = 64 * 1024 })
	peer := accept(t, s)

	big := bytes.Repeat([]byte{7}, 2048)
	for range 100 {
		require.True(t, client.Send(0, big))
	}
	require.True(t, client.Send(0, []byte("small")))

	m := receive(t, peer)
	assert.Equal(t, "small", string(m.Payload))
	assert.Eventually(t, func() bool { return n.LivePackets() == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, StateConnected, peer.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	client := dial(t, n, s, nil)
	peer := accept(t, s)

	require.True(t, peer.Send(0, []byte("unread")))
	require.Eventually(t, func() bool { return client.inbound.Len() == 1 }, waitFor, time.Millisecond)
	require.True(t, client.Send(0, []byte("pending")))
	client.Disconnect()
	client.Disconnect()
	assert.Zero(t, client.inbound.Len())
	assert.Zero(t, client.outbound.Len())

	assert.Nil(t, client.RemoteAddr())
	assert.False(t, client.Send(0, []byte("late")))
	_, err := client.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-client.Done():
	case <-time.After(waitFor):
		t.Fatal("client never closed")
	}
	assert.Equal(t, StateClosed, client.State())
	client.Disconnect()

	select {
	case <-peer.Done():
	case <-time.After(waitFor):
		t.Fatal("server side never saw the disconnect")
	}
	_, err = peer.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, waitFor, time.Millisecond)
}

func TestServerSideDisconnect(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	client := dial(t, n, s, nil)
	peer := accept(t, s)

	peer.Disconnect()

	select {
	case <-client.Done():
	case <-time.After(waitFor):
		t.Fatal("client never saw the disconnect")
	}
	assert.Eventually(t, func() bool { return s.Len() == 0 }, waitFor, time.Millisecond)
	assert.True(t, s.Active(), "dropping one peer must not stop the server")
}

func TestReceiveHonoursContext(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	client := dial(t, n, s, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMaxPeersRefusesExtraClients(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, func(o *Options) { o.Config.MaxPeers = 2 })

	dial(t, n, s, nil)
	dial(t, n, s, nil)

	_, err := tryDial(n, s, nil)
	assert.ErrorIs(t, err, ErrConnectionRefused)
	assert.LessOrEqual(t, s.Len(), 2)
	assert.Eventually(t, func() bool { return s.Len() == 2 }, waitFor, time.Millisecond)
}

func TestDialWithoutServer(t *testing.T) {
	n := loopback.NewNetwork()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err := Dial(ctx, "127.0.0.1", 9, Options{Config: testConfig(), Engine: n})
	assert.ErrorIs(t, err, ErrConnectionRefused)
}

func TestDialRequiresEngine(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1", 1, Options{Config: testConfig()})
	assert.ErrorIs(t, err, ErrNoEngine)

	_, err = Listen(Options{Config: testConfig()})
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestListenFailsOnBusyPort(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, func(o *Options) { o.Config.Port = 7777 })
	assert.Equal(t, "rudp://127.0.0.1:7777", s.URI())

	_, err := Listen(Options{Config: func() config.Config {
		c := testConfig()
		c.Port = 7777
		return c
	}(), Engine: n})
	assert.ErrorIs(t, err, loopback.ErrAddressInUse)
}

func TestTimedOutPeerIsReaped(t *testing.T) {
	mock := clock.NewMock()
	n := loopback.NewNetwork(loopback.WithClock(mock))
	withTimeout := func(o *Options) {
		o.Config.TimeoutBase = 100 * time.Millisecond
		o.Config.TimeoutMultiplier = 3
	}
	s := startServer(t, n, withTimeout)
	client := dial(t, n, s, withTimeout)
	peer := accept(t, s)

	host, ok := n.HostAt(serverPort(s))
	require.True(t, ok)
	require.True(t, host.Sever(peer.ID()))

	mock.Add(time.Second)

	select {
	case <-peer.Done():
	case <-time.After(waitFor):
		t.Fatal("server side never timed out")
	}
	select {
	case <-client.Done():
	case <-time.After(waitFor):
		t.Fatal("client never timed out")
	}
	assert.Eventually(t, func() bool { return s.Len() == 0 }, waitFor, time.Millisecond)

	// A late datagram from the reaped peer is dropped.
	host.Inject(peer.ID(), 0, []byte("ghost"))
	assert.Eventually(t, func() bool { return n.LivePackets() == 0 }, waitFor, time.Millisecond)
	_, err := peer.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSpoofedPacketIgnored(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	dial(t, n, s, nil)
	peer := accept(t, s)

	host, ok := n.HostAt(serverPort(s))
	require.True(t, ok)
	host.Inject(peer.ID()+1000, 0, []byte("spoof"))

	assert.Eventually(t, func() bool { return n.LivePackets() == 0 }, waitFor, time.Millisecond)
	_, ok = peer.TryReceive()
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestShutdownClosesEverything(t *testing.T) {
	n := loopback.NewNetwork()
	s := startServer(t, n, nil)
	client := dial(t, n, s, nil)
	peer := accept(t, s)

	s.Shutdown()
	s.Shutdown()

	assert.False(t, s.Active())
	assert.Equal(t, StateClosed, peer.State())
	_, ok := s.TryAccept()
	assert.False(t, ok)
	_, err := s.Accept(context.Background())
	assert.ErrorIs(t, err, ErrServerClosed)

	select {
	case <-client.Done():
	case <-time.After(waitFor):
		t.Fatal("client never saw the shutdown")
	}
	_, ok = n.HostAt(serverPort(s))
	assert.False(t, ok, "host must be released")
}

func TestShutdownBeforeStart(t *testing.T) {
	s, err := NewServer(Options{Config: testConfig(), Engine: loopback.NewNetwork()})
	require.NoError(t, err)
	s.Shutdown()

	<-s.Done()
	assert.Nil(t, s.Addr())
	assert.Error(t, s.Start())
}

func TestReapTwice(t *testing.T) {
	o, err := Options{Config: testConfig(), Engine: loopback.NewNetwork()}.resolve()
	require.NoError(t, err)
	s, err := NewServer(o.Options)
	require.NoError(t, err)
	s.pump = newPump(nil, s.opts)

	c := newConnection(&stubPeer{id: 9}, true, s.opts)
	c.markConnected()
	require.NoError(t, s.reg.Admit(9, c))

	s.reap(9, "timeout")
	s.reap(9, "timeout")

	assert.Equal(t, StateClosed, c.State())
	assert.Zero(t, s.Len())
	assert.EqualValues(t, 1, s.Counters().ClosedConns.Load())
}

func TestStatsAreSampledAndMonotonic(t *testing.T) {
	n := loopback.NewNetwork(loopback.WithRoundTripTime(4 * time.Millisecond))
	mock := clock.NewMock()
	reg := prometheus.NewRegistry()
	metrics, err := stats.NewMetrics(reg, "rudp")
	require.NoError(t, err)

	s := startServer(t, n, nil)
	client := dial(t, n, s, func(o *Options) {
		o.Clock = mock
		o.Metrics = metrics
		o.Config.StatsInterval = time.Second
	})
	peer := accept(t, s)
	assert.True(t, client.Stats().SampledAt.IsZero(), "no sample before the first tick")

	require.True(t, client.Send(0, []byte("one")))
	receive(t, peer)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return !client.Stats().SampledAt.IsZero() }, waitFor, time.Millisecond)
	first := client.Stats()
	assert.Equal(t, 4*time.Millisecond, first.RoundTripTime)
	assert.EqualValues(t, 3, first.BytesSent)

	require.True(t, client.Send(0, []byte("two!")))
	receive(t, peer)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return client.Stats().SampledAt.After(first.SampledAt) }, waitFor, time.Millisecond)
	second := client.Stats()
	assert.GreaterOrEqual(t, second.BytesSent, first.BytesSent)
	assert.GreaterOrEqual(t, second.PacketsSent, first.PacketsSent)
	assert.GreaterOrEqual(t, second.BytesReceived, first.BytesReceived)
	assert.EqualValues(t, 7, second.BytesSent)

	assert.Equal(t, 5, testutil.CollectAndCount(reg))

	client.Disconnect()
	<-client.Done()
	assert.Zero(t, testutil.CollectAndCount(reg), "closed connections leave the metrics")
}

type stubPeer struct {
	id      uint32
	dropped int
}

func (p *stubPeer) ID() uint32                                  { return p.id }
func (p *stubPeer) Addr() net.Addr                              { return nil }
func (p *stubPeer) Send(uint8, []byte, engine.DeliveryFlag) int { return engine.StatusOK }
func (p *stubPeer) DisconnectNow()                              { p.dropped++ }
func (p *stubPeer) Stats() engine.PeerStats                     { return engine.PeerStats{} }
