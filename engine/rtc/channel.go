package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rudp/engine"
)

// dataChannel wraps one pion DataChannel with backpressure control.
type dataChannel struct {
	raw  *webrtc.DataChannel
	flag engine.DeliveryFlag
}

// newDataChannel creates the pre-negotiated DataChannel for channel id.
// Both sides create the same channels independently, so no in-band
// announcement is needed.
func newDataChannel(pc *webrtc.PeerConnection, id uint16, flag engine.DeliveryFlag) (*dataChannel, error) {
	ordered := flag.IsOrdered()
	negotiated := true
	init := &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	}
	if !flag.IsReliable() {
		var retransmits uint16
		init.MaxRetransmits = &retransmits
	}

	raw, err := pc.CreateDataChannel(fmt.Sprintf("ch%d-%s", id, flag), init)
	if err != nil {
		return nil, fmt.Errorf("create channel %d: %w", id, err)
	}

	return &dataChannel{raw: raw, flag: flag}, nil
}

// send transmits data and returns an engine status. It never blocks: over
// the high-water mark unreliable data is dropped, and reliable data is
// refused with engine.StatusBusy so the caller can retry it.
func (c *dataChannel) send(data []byte) int {
	if c.raw.ReadyState() != webrtc.DataChannelStateOpen {
		return StatusNotOpen
	}
	if c.raw.BufferedAmount() > uint64(HighWaterMark) {
		if c.flag.IsReliable() {
			return engine.StatusBusy
		}
		return StatusBackpressure
	}
	if err := c.raw.Send(data); err != nil {
		return StatusSendFailed
	}
	return engine.StatusOK
}

func (c *dataChannel) buffered() uint64 {
	return c.raw.BufferedAmount()
}
