package handler

import (
	"fmt"
	"reflect"

	"modnet/internal/identity"
	"modnet/internal/payload"
	"modnet/internal/protocol"
	"modnet/internal/transport"
)

// Kind is the call shape a descriptor holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindClientPayload
	KindClientRaw
	KindServerPayload
	KindServerRaw
)

func (k Kind) String() string {
	switch k {
	case KindClientPayload:
		return "client_payload"
	case KindClientRaw:
		return "client_raw"
	case KindServerPayload:
		return "server_payload"
	case KindServerRaw:
		return "server_raw"
	default:
		return "invalid"
	}
}

func (k Kind) ServerSide() bool { return k == KindServerPayload || k == KindServerRaw }
func (k Kind) Raw() bool        { return k == KindClientRaw || k == KindServerRaw }

// Descriptor describes how to invoke one registered handler. Only the field
// matching Kind is set. Descriptors are values: lookups hand out copies, so
// an invocation keeps running against the snapshot it started with.
type Descriptor struct {
	Kind        Kind
	Name        string
	PayloadType reflect.Type
	AutoRelease bool

	pool      payload.Pool
	newFn     func() payload.Payload
	client    func(payload.Payload)
	clientRaw func(*transport.Message)
	server    func(transport.SenderID, payload.Payload)
	serverRaw func(transport.SenderID, *transport.Message)
}

type Option func(*Descriptor)

// AutoRelease hands the decoded payload back to its pool after the handler
// returns.
func AutoRelease() Option {
	return func(d *Descriptor) { d.AutoRelease = true }
}

// WithPool takes payload containers from pool instead of allocating.
func WithPool(pool payload.Pool) Option {
	return func(d *Descriptor) { d.pool = pool }
}

func Named(name string) Option {
	return func(d *Descriptor) { d.Name = name }
}

func (d Descriptor) apply(opts []Option) Descriptor {
	for _, o := range opts {
		o(&d)
	}
	if d.Name == "" {
		switch {
		case d.PayloadType != nil:
			d.Name = identity.TypeName(d.PayloadType)
		default:
			d.Name = d.Kind.String()
		}
	}
	return d
}

// Client builds a client-side descriptor for a typed payload handler.
func Client[T any, P interface {
	*T
	payload.Payload
}](fn func(P), opts ...Option) Descriptor {
	return Descriptor{
		Kind:        KindClientPayload,
		PayloadType: reflect.TypeFor[P](),
		newFn:       func() payload.Payload { return P(new(T)) },
		client:      func(p payload.Payload) { fn(p.(P)) },
	}.apply(opts)
}

// ClientRaw builds a client-side descriptor that receives the raw message.
func ClientRaw(fn func(*transport.Message), opts ...Option) Descriptor {
	return Descriptor{Kind: KindClientRaw, clientRaw: fn}.apply(opts)
}

// Server builds a server-side descriptor for a typed payload handler.
func Server[T any, P interface {
	*T
	payload.Payload
}](fn func(transport.SenderID, P), opts ...Option) Descriptor {
	return Descriptor{
		Kind:        KindServerPayload,
		PayloadType: reflect.TypeFor[P](),
		newFn:       func() payload.Payload { return P(new(T)) },
		server:      func(s transport.SenderID, p payload.Payload) { fn(s, p.(P)) },
	}.apply(opts)
}

// ServerRaw builds a server-side descriptor that receives the raw message.
func ServerRaw(fn func(transport.SenderID, *transport.Message), opts ...Option) Descriptor {
	return Descriptor{Kind: KindServerRaw, serverRaw: fn}.apply(opts)
}

func (d Descriptor) Valid() bool {
	switch d.Kind {
	case KindClientPayload:
		return d.client != nil && d.newFn != nil
	case KindClientRaw:
		return d.clientRaw != nil
	case KindServerPayload:
		return d.server != nil && d.newFn != nil
	case KindServerRaw:
		return d.serverRaw != nil
	default:
		return false
	}
}

func (d Descriptor) acquire() payload.Payload {
	if d.pool != nil {
		return d.pool.Acquire()
	}
	return d.newFn()
}

func (d Descriptor) release(p payload.Payload) {
	if !d.AutoRelease {
		return
	}
	if d.pool != nil {
		d.pool.Release(p)
		return
	}
	if r, ok := p.(payload.Resetter); ok {
		r.Reset()
	}
}

func (d Descriptor) decode(m *transport.Message) (payload.Payload, error) {
	p := d.acquire()
	if err := p.Read(m); err != nil {
		if d.pool != nil {
			d.pool.Release(p)
		}
		return nil, fmt.Errorf("decode %s: %w", d.Name, err)
	}
	return p, nil
}

// InvokeClient runs a client-side handler. The payload is decoded from m
// unless the handler takes the raw message.
func (d Descriptor) InvokeClient(m *transport.Message) error {
	switch d.Kind {
	case KindClientRaw:
		d.clientRaw(m)
		return nil
	case KindClientPayload:
		p, err := d.decode(m)
		if err != nil {
			return err
		}
		d.client(p)
		d.release(p)
		return nil
	default:
		return fmt.Errorf("%w: %s on client", protocol.ErrSideMismatch, d.Kind)
	}
}

// InvokeServer runs a server-side handler on behalf of sender.
func (d Descriptor) InvokeServer(sender transport.SenderID, m *transport.Message) error {
	switch d.Kind {
	case KindServerRaw:
		d.serverRaw(sender, m)
		return nil
	case KindServerPayload:
		p, err := d.decode(m)
		if err != nil {
			return err
		}
		d.server(sender, p)
		d.release(p)
		return nil
	default:
		return fmt.Errorf("%w: %s on server", protocol.ErrSideMismatch, d.Kind)
	}
}
