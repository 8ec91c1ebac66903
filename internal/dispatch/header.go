// Package dispatch strips the system header from inbound messages and
// invokes the registered handler, for a single-recipient client and for a
// per-connection server.
package dispatch

import (
	"fmt"

	"modnet/internal/protocol"
	"modnet/internal/transport"
)

const DefaultTagBits = 2

// Layout describes the system header written before every payload:
//
//	[tag: TagBits][scoped: 1 if ScopeFlag][module: 16 if scoped][message: 16]
//
// Module and message IDs are only present on regular messages.
type Layout struct {
	TagBits   int
	ScopeFlag bool
}

func DefaultLayout() Layout {
	return Layout{TagBits: DefaultTagBits, ScopeFlag: true}
}

func (l Layout) Validate() error {
	if l.TagBits < 0 || l.TagBits > 8 {
		return fmt.Errorf("%w: tag bits %d", protocol.ErrInvalidValue, l.TagBits)
	}
	return nil
}

// Header is the decoded system header.
type Header struct {
	Tag     protocol.SystemMessageID
	Scoped  bool
	Module  protocol.ModuleID
	Message protocol.MessageID
}

func (h Header) Identity(g protocol.GroupID) protocol.Identity {
	return protocol.Identity{Module: h.Module, Group: g, Message: h.Message}
}

func (l Layout) Write(m *transport.Message, h Header) error {
	if uint64(h.Tag) >= 1<<l.TagBits {
		return fmt.Errorf("%w: tag %s needs more than %d bits", protocol.ErrInvalidValue, h.Tag, l.TagBits)
	}
	if h.Scoped && !l.ScopeFlag {
		return fmt.Errorf("%w: layout has no module scope flag", protocol.ErrInvalidValue)
	}
	if l.TagBits > 0 {
		m.WriteBits(uint64(h.Tag), l.TagBits)
	}
	if h.Tag != protocol.SystemRegular {
		return nil
	}
	if l.ScopeFlag {
		m.WriteBool(h.Scoped)
		if h.Scoped {
			m.WriteUint16(uint16(h.Module))
		}
	}
	m.WriteUint16(uint16(h.Message))
	return nil
}

func (l Layout) Read(m *transport.Message) (Header, error) {
	var h Header
	if l.TagBits > 0 {
		v, err := m.ReadBits(l.TagBits)
		if err != nil {
			return h, fmt.Errorf("read system tag: %w", err)
		}
		h.Tag = protocol.SystemMessageID(v)
	}
	if h.Tag != protocol.SystemRegular {
		return h, nil
	}
	if l.ScopeFlag {
		scoped, err := m.ReadBool()
		if err != nil {
			return h, fmt.Errorf("read scope flag: %w", err)
		}
		h.Scoped = scoped
		if scoped {
			mod, err := m.ReadUint16()
			if err != nil {
				return h, fmt.Errorf("read module id: %w", err)
			}
			h.Module = protocol.ModuleID(mod)
		}
	}
	msg, err := m.ReadUint16()
	if err != nil {
		return h, fmt.Errorf("read message id: %w", err)
	}
	h.Message = protocol.MessageID(msg)
	return h, nil
}
