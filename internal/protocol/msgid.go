// internal/protocol/msgid.go
package protocol

import "fmt"

type (
	ModuleID  uint16
	GroupID   uint8
	MessageID uint16
)

// =======================
// Identity space
// =======================
const (
	// DefaultGroup exists from startup and never has to be allocated.
	DefaultGroup GroupID = 0

	// SystemReserved message IDs [0, SystemReserved) belong to the protocol
	// (handshake, ping, pong, disconnect) and are never handed to user handlers.
	SystemReserved MessageID = 4

	MaxModuleIDAmount  = 1 << 16
	MaxGroupIDAmount   = 1 << 8
	MaxMessageIDAmount = 1<<16 - int(SystemReserved)
)

// Identity names a message type or handler slot.
type Identity struct {
	Module  ModuleID
	Group   GroupID
	Message MessageID
}

func (id Identity) String() string {
	return fmt.Sprintf("%d:%d:%d", id.Module, id.Group, id.Message)
}

// =======================
// System header tags
// =======================
type SystemMessageID uint8

const (
	SystemRegular SystemMessageID = iota
	SystemRequest
	SystemResponse
	SystemValidationCheck
)

func (t SystemMessageID) String() string {
	switch t {
	case SystemRegular:
		return "regular"
	case SystemRequest:
		return "request"
	case SystemResponse:
		return "response"
	case SystemValidationCheck:
		return "validation_check"
	default:
		return fmt.Sprintf("system(%d)", uint8(t))
	}
}
