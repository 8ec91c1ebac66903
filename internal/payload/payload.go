// Package payload defines the contract message payload types implement and
// the acquire/release contract for pooled payload containers.
package payload

import (
	"sync"

	"modnet/internal/transport"
)

// Payload reads and writes its fields through the message bit cursor. The
// bodies are usually generated for flat field lists.
type Payload interface {
	Read(m *transport.Message) error
	Write(m *transport.Message) error
}

// Resetter is implemented by payloads that clear themselves before going
// back to a pool.
type Resetter interface {
	Reset()
}

// Pool is the acquire/release contract. Implementations must be safe for
// concurrent use.
type Pool interface {
	Acquire() Payload
	Release(Payload)
}

// SyncPool pools *T payloads on a sync.Pool.
type SyncPool[T any, P interface {
	*T
	Payload
}] struct {
	pool sync.Pool
}

func NewSyncPool[T any, P interface {
	*T
	Payload
}]() *SyncPool[T, P] {
	sp := &SyncPool[T, P]{}
	sp.pool.New = func() any { return P(new(T)) }
	return sp
}

func (sp *SyncPool[T, P]) Acquire() Payload {
	return sp.pool.Get().(P)
}

func (sp *SyncPool[T, P]) Release(p Payload) {
	v, ok := p.(P)
	if !ok {
		return
	}
	if r, ok := p.(Resetter); ok {
		r.Reset()
	}
	sp.pool.Put(v)
}
