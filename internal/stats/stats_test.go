package stats

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/util"
)

type countingPeer struct {
	engine.Peer
	stats engine.PeerStats
}

func (p *countingPeer) Stats() engine.PeerStats { return p.stats }

func TestSamplerTicksOnMockClock(t *testing.T) {
	mock := clock.NewMock()
	s := NewSampler(mock, 3*time.Second)
	defer s.Stop()

	assert.False(t, s.Due())

	mock.Add(3 * time.Second)
	assert.True(t, s.Due())
	assert.False(t, s.Due(), "one tick must be consumed exactly once")
}

func TestSamplerDisabled(t *testing.T) {
	mock := clock.NewMock()
	s := NewSampler(mock, 0)
	mock.Add(time.Hour)
	assert.False(t, s.Due())
	s.Stop()
}

func TestSampleCopiesCounters(t *testing.T) {
	mock := clock.NewMock()
	s := NewSampler(mock, time.Second)
	defer s.Stop()

	peer := &countingPeer{stats: engine.PeerStats{
		RoundTripTime: 42 * time.Millisecond,
		BytesSent:     10,
		BytesReceived: 20,
		PacketsSent:   3,
		PacketsLost:   1,
	}}
	snap := s.Sample(peer)
	assert.Equal(t, 42*time.Millisecond, snap.RoundTripTime)
	assert.Equal(t, uint64(10), snap.BytesSent)
	assert.Equal(t, uint64(20), snap.BytesReceived)
	assert.Equal(t, uint64(3), snap.PacketsSent)
	assert.Equal(t, uint64(1), snap.PacketsLost)
	assert.Equal(t, mock.Now(), snap.SampledAt)
}

// TestCellNeverTorn stores snapshots whose fields are all equal and checks
// that readers never observe a mix of two snapshots.
func TestCellNeverTorn(t *testing.T) {
	var c Cell
	assert.Equal(t, Snapshot{}, c.Load())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); ctx.Err() == nil; i++ {
			c.Store(Snapshot{BytesSent: i, BytesReceived: i, PacketsSent: i, PacketsLost: i})
		}
	}()

	for i := 0; i < 10000; i++ {
		s := c.Load()
		require.Equal(t, s.BytesSent, s.BytesReceived)
		require.Equal(t, s.BytesSent, s.PacketsSent)
		require.Equal(t, s.BytesSent, s.PacketsLost)
	}
	cancel()
	wg.Wait()
}

func TestMetricsObserveAndForget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "rudp")
	require.NoError(t, err)

	m.Observe("7", Snapshot{RoundTripTime: 250 * time.Millisecond, BytesSent: 100, PacketsLost: 2})
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.rtt.WithLabelValues("7")), 1e-9)
	assert.Equal(t, float64(100), testutil.ToFloat64(m.bytesSent.WithLabelValues("7")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.packetsLost.WithLabelValues("7")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.bytesSent))

	m.Forget("7")
	assert.Equal(t, 0, testutil.CollectAndCount(m.bytesSent))

	// Registering twice on the same registry fails instead of panicking.
	_, err = NewMetrics(reg, "rudp")
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe("1", Snapshot{})
	m.Forget("1")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "99.0   B", formatBytes(99))
	assert.Equal(t, " 1.5 KiB", formatBytes(1536))
	assert.Equal(t, " 0.1 KiB", formatBytes(100))
	assert.Len(t, formatBytes(98.9*1024*1024*1024), 8)
}

func TestFormatStats(t *testing.T) {
	line := formatStats(1536, 0, 2, 1)
	assert.Equal(t, "In:  1.5 KiB/s | Out:  0.0   B/s | Conn:  2↑  1↓", line)
}

func TestCounters(t *testing.T) {
	var c Counters
	c.AddConn()
	c.AddConn()
	c.RemoveConn()
	c.AddSent(5)
	c.AddRecv(7)
	assert.Equal(t, int64(1), c.Live())
	assert.Equal(t, int64(5), c.BytesSent.Load())
	assert.Equal(t, int64(7), c.BytesRecv.Load())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporterLogsActivity(t *testing.T) {
	var out syncBuffer
	util.SetOutput(&out)
	defer util.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mc := clock.NewMock()
	var c Counters
	c.AddConn()
	c.AddRecv(4096)
	StartReporter(ctx, mc, time.Second, &c)

	assert.Eventually(t, func() bool {
		mc.Add(time.Second)
		return strings.Contains(out.String(), "Conn:  1")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), "In:  4.0 KiB/s")
}
