package transport

import "fmt"

// SendMode selects the delivery guarantee of a message. Each mode carries a
// different transport header ahead of the payload bits.
type SendMode uint8

const (
	Unreliable SendMode = iota
	Reliable
	// Notify is semi-reliable: delivery is not retried but the sender is
	// told about loss through the ack field.
	Notify
)

// HeaderBits is the width of the mode-specific transport header.
func (m SendMode) HeaderBits() int {
	switch m {
	case Reliable:
		return 16
	case Notify:
		return 48
	default:
		return 0
	}
}

func (m SendMode) Valid() bool { return m <= Notify }

func (m SendMode) String() string {
	switch m {
	case Unreliable:
		return "unreliable"
	case Reliable:
		return "reliable"
	case Notify:
		return "notify"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}
