// Package channel maps logical channel indices to engine delivery flags.
package channel

import (
	"errors"
	"fmt"

	"github.com/1ureka/rudp/engine"
)

// ErrOutOfRange is returned when a channel index is not covered by the policy.
// It is a caller error: the send is dropped, nothing is queued.
var ErrOutOfRange = errors.New("channel index out of range")

// Policy is the ordered list of delivery flags, indexed by channel id. It is
// fixed for the lifetime of the connections that use it.
type Policy struct {
	flags []engine.DeliveryFlag
}

// NewPolicy copies flags into a new Policy.
func NewPolicy(flags ...engine.DeliveryFlag) (*Policy, error) {
	if len(flags) == 0 {
		return nil, errors.New("channel policy needs at least one channel")
	}
	if len(flags) > engine.MaxChannels {
		return nil, fmt.Errorf("too many channels: %d (limit %d)", len(flags), engine.MaxChannels)
	}
	p := &Policy{flags: make([]engine.DeliveryFlag, len(flags))}
	copy(p.flags, flags)
	return p, nil
}

// Default returns the conventional two-channel policy: channel 0 reliable and
// ordered, channel 1 unreliable.
func Default() *Policy {
	return &Policy{flags: []engine.DeliveryFlag{engine.Reliable, engine.Unreliable}}
}

// Parse builds a Policy from configuration names such as "reliable".
func Parse(names []string) (*Policy, error) {
	flags := make([]engine.DeliveryFlag, 0, len(names))
	for i, name := range names {
		f, err := engine.ParseDeliveryFlag(name)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		flags = append(flags, f)
	}
	return NewPolicy(flags...)
}

// Resolve returns the delivery flag for channel index i.
func (p *Policy) Resolve(i int) (engine.DeliveryFlag, error) {
	if i < 0 || i >= len(p.flags) {
		return 0, fmt.Errorf("%w: %d (have %d)", ErrOutOfRange, i, len(p.flags))
	}
	return p.flags[i], nil
}

// Len returns the number of channels.
func (p *Policy) Len() int { return len(p.flags) }

// Flags returns a copy of the flag list, suitable for engine.HostConfig.
func (p *Policy) Flags() []engine.DeliveryFlag {
	out := make([]engine.DeliveryFlag, len(p.flags))
	copy(out, p.flags)
	return out
}
