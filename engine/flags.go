package engine

import (
	"fmt"
	"strings"
)

// DeliveryFlag selects the delivery guarantee of a send.
type DeliveryFlag uint8

const (
	// Unreliable packets are sequenced but may be lost.
	Unreliable DeliveryFlag = 0
	// Reliable packets are retransmitted until acknowledged and delivered in order.
	Reliable DeliveryFlag = 1 << 0
	// Unsequenced packets may be lost and may arrive in any order.
	Unsequenced DeliveryFlag = 1 << 1
	// UnreliableFragmented packets larger than the MTU are fragmented
	// instead of promoted to reliable.
	UnreliableFragmented DeliveryFlag = 1 << 3
)

var flagNames = map[DeliveryFlag]string{
	Unreliable:           "unreliable",
	Reliable:             "reliable",
	Unsequenced:          "unsequenced",
	UnreliableFragmented: "unreliable_fragmented",
}

func (f DeliveryFlag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("flag(%d)", uint8(f))
}

// IsReliable reports whether packets sent with f are retransmitted.
func (f DeliveryFlag) IsReliable() bool {
	return f&Reliable != 0
}

// IsOrdered reports whether packets sent with f keep their send order.
func (f DeliveryFlag) IsOrdered() bool {
	return f&Unsequenced == 0
}

// ParseDeliveryFlag converts a configuration name into a DeliveryFlag.
// Names are case-insensitive; "-" and "_" are interchangeable.
func ParseDeliveryFlag(name string) (DeliveryFlag, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for flag, s := range flagNames {
		if s == n {
			return flag, nil
		}
	}
	return 0, fmt.Errorf("unknown delivery flag %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (f DeliveryFlag) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *DeliveryFlag) UnmarshalText(text []byte) error {
	parsed, err := ParseDeliveryFlag(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
