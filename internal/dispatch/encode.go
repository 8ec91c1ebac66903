package dispatch

import (
	"fmt"

	"modnet/internal/identity"
	"modnet/internal/payload"
	"modnet/internal/protocol"
	"modnet/internal/registry"
	"modnet/internal/transport"
)

// Encode builds an outbound message for p travelling towards dir. The
// payload type must have an identity whose group lanes allow that
// direction. Scoped identities (non-zero module) set the module flag.
func Encode(reg *registry.Registry, l Layout, dir identity.Direction, mode transport.SendMode, p payload.Payload) (*transport.Message, error) {
	e, ok := reg.EntryOf(p)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrNoIdentity, p)
	}
	idx, ok := reg.Space().Indexer(e.Identity.Group)
	if !ok {
		return nil, fmt.Errorf("%w: %d", protocol.ErrUnknownGroup, e.Identity.Group)
	}
	routable := idx.HasServer(e.Identity.Message)
	if dir == identity.ToClient {
		routable = idx.HasClient(e.Identity.Message)
	}
	if !routable {
		return nil, fmt.Errorf("%w: %s towards %s", protocol.ErrNotRoutable, e.Name, dir)
	}

	h := Header{Tag: protocol.SystemRegular, Message: e.Identity.Message}
	if e.Identity.Module != 0 {
		h.Scoped = true
		h.Module = e.Identity.Module
	}
	m := transport.NewMessage(mode)
	if err := l.Write(m, h); err != nil {
		return nil, err
	}
	if err := p.Write(m); err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Name, err)
	}
	return m, nil
}

// EncodeTo writes a message for an explicit identity, for raw handlers and
// tests that address IDs directly.
func EncodeTo(l Layout, mode transport.SendMode, h Header, body func(*transport.Message) error) (*transport.Message, error) {
	m := transport.NewMessage(mode)
	if err := l.Write(m, h); err != nil {
		return nil, err
	}
	if body != nil {
		if err := body(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}
