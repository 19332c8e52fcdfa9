package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports per-peer snapshots as Prometheus gauges labelled by peer id.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	rtt           *prometheus.GaugeVec
	bytesSent     *prometheus.GaugeVec
	bytesReceived *prometheus.GaugeVec
	packetsSent   *prometheus.GaugeVec
	packetsLost   *prometheus.GaugeVec
}

// NewMetrics creates the gauges and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      name,
			Help:      help,
		}, []string{"peer"})
	}

	m := &Metrics{
		rtt:           gauge("round_trip_time_seconds", "Last sampled round-trip time."),
		bytesSent:     gauge("bytes_sent", "Bytes sent to the peer as counted by the engine."),
		bytesReceived: gauge("bytes_received", "Bytes received from the peer as counted by the engine."),
		packetsSent:   gauge("packets_sent", "Packets sent to the peer as counted by the engine."),
		packetsLost:   gauge("packets_lost", "Packets the engine considers lost."),
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{m.rtt, m.bytesSent, m.bytesReceived, m.packetsSent, m.packetsLost}
}

// Observe publishes s for peer.
func (m *Metrics) Observe(peer string, s Snapshot) {
	if m == nil {
		return
	}
	m.rtt.WithLabelValues(peer).Set(s.RoundTripTime.Seconds())
	m.bytesSent.WithLabelValues(peer).Set(float64(s.BytesSent))
	m.bytesReceived.WithLabelValues(peer).Set(float64(s.BytesReceived))
	m.packetsSent.WithLabelValues(peer).Set(float64(s.PacketsSent))
	m.packetsLost.WithLabelValues(peer).Set(float64(s.PacketsLost))
}

// Forget drops every series of peer, called on teardown.
func (m *Metrics) Forget(peer string) {
	if m == nil {
		return
	}
	for _, c := range m.collectors() {
		c.DeleteLabelValues(peer)
	}
}
