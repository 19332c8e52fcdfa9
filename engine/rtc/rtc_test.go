package rtc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rudp/engine"
)

func TestPacketPool(t *testing.T) {
	pool := newPacketPool(8)

	small := pool.get([]byte("abc"))
	assert.Equal(t, 3, small.Len())
	buf := make([]byte, small.Len())
	n, err := small.CopyTo(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(buf))

	small.Dispose()
	small.Dispose()
	_, err = small.CopyTo(buf)
	assert.ErrorIs(t, err, errDisposed)

	big := pool.get(make([]byte, 20))
	assert.Equal(t, 20, big.Len(), "oversize messages keep their real length")
	big.Dispose()
}

func TestPacketDoesNotAliasSource(t *testing.T) {
	pool := newPacketPool(16)
	src := []byte("hello")
	p := pool.get(src)
	src[0] = 'J'

	out := make([]byte, p.Len())
	_, err := p.CopyTo(out)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestLoggerFactory(t *testing.T) {
	l := (&loggerFactory{}).NewLogger("ice")
	// Must not panic at any level.
	l.Trace("t")
	l.Debugf("%d", 1)
	l.Info("i")
	l.Warnf("w %s", "x")
	l.Error("e")
}

func hostConfig(listen bool) engine.HostConfig {
	return engine.HostConfig{
		Address:       "127.0.0.1",
		Listen:        listen,
		MaxPeers:      1,
		Channels:      []engine.DeliveryFlag{engine.Reliable, engine.Unreliable},
		MaxPacketSize: 1024,
		TimeoutBase:   2 * time.Second,
		TimeoutMax:    6 * time.Second,
	}
}

func waitEvent(t *testing.T, h engine.Host, want engine.EventType) engine.Event {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ev, ok, err := h.Service(50 * time.Millisecond)
		require.NoError(t, err)
		if !ok {
			continue
		}
		if ev.Type == want {
			return ev
		}
		if ev.Packet != nil {
			ev.Packet.Dispose()
		}
	}
	t.Fatalf("no %s event", want)
	return engine.Event{}
}

func TestPeersExchangeData(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	e := New()

	server, err := e.CreateHost(hostConfig(true))
	require.NoError(t, err)
	defer server.Close()

	client, err := e.CreateHost(hostConfig(false))
	require.NoError(t, err)
	defer client.Close()

	port := server.LocalAddr().(*net.UDPAddr).Port
	p, err := client.Connect("127.0.0.1", port)
	require.NoError(t, err)

	remote := waitEvent(t, server, engine.EventConnect).Peer
	waitEvent(t, client, engine.EventConnect)

	require.Equal(t, engine.StatusOK, p.Send(0, []byte("ping"), engine.Reliable))
	ev := waitEvent(t, server, engine.EventReceive)
	assert.Equal(t, uint8(0), ev.ChannelID)
	assert.Equal(t, remote.ID(), ev.Peer.ID())
	buf := make([]byte, ev.Packet.Len())
	_, err = ev.Packet.CopyTo(buf)
	require.NoError(t, err)
	ev.Packet.Dispose()
	assert.Equal(t, "ping", string(buf))

	assert.Equal(t, StatusBadChannel, p.Send(7, []byte("x"), engine.Reliable))

	p.DisconnectNow()
	waitEvent(t, server, engine.EventDisconnect)
}

func TestFullHostRefuses(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	e := New()

	server, err := e.CreateHost(hostConfig(true))
	require.NoError(t, err)
	defer server.Close()
	port := server.LocalAddr().(*net.UDPAddr).Port

	first, err := e.CreateHost(hostConfig(false))
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Connect("127.0.0.1", port)
	require.NoError(t, err)
	waitEvent(t, first, engine.EventConnect)

	second, err := e.CreateHost(hostConfig(false))
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Connect("127.0.0.1", port)
	require.NoError(t, err)
	waitEvent(t, second, engine.EventDisconnect)
}

func TestServiceAfterClose(t *testing.T) {
	h, err := New().CreateHost(hostConfig(false))
	require.NoError(t, err)
	_ = h.Close()
	assert.NoError(t, h.Close(), "second close is a no-op")

	_, _, err = h.Service(time.Millisecond)
	assert.ErrorIs(t, err, engine.ErrHostClosed)
	_, err = h.Connect("127.0.0.1", 1)
	assert.ErrorIs(t, err, engine.ErrHostClosed)
}
