// Package handler holds handler descriptors and the per-group tables that
// map (module, message) identities to them.
package handler

import (
	"fmt"

	"modnet/internal/protocol"
)

// Table maps (module, message) to a descriptor for one group and one side.
// Lookups return descriptors by value.
type Table interface {
	// Get looks up msg in module 0.
	Get(msg protocol.MessageID) (Descriptor, error)
	GetModule(mod protocol.ModuleID, msg protocol.MessageID) (Descriptor, error)
	TryGet(mod protocol.ModuleID, msg protocol.MessageID) (Descriptor, bool)
	Has(mod protocol.ModuleID, msg protocol.MessageID) bool

	// Put stores d in module 0 under the next unused message ID.
	Put(d Descriptor) (protocol.MessageID, error)
	Set(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) error
	Remove(mod protocol.ModuleID, msg protocol.MessageID) bool

	Len() int
	Range(fn func(mod protocol.ModuleID, msg protocol.MessageID, d Descriptor) bool)

	// Clear drops every descriptor and keeps the storage.
	Clear()
	// Reset drops the storage too.
	Reset()
}

// Mode picks a Table implementation.
type Mode uint8

const (
	// ModeRegion favors lookup speed (RegionTable).
	ModeRegion Mode = iota
	// ModeMap favors memory (MapTable).
	ModeMap
)

func (m Mode) String() string {
	if m == ModeMap {
		return "map"
	}
	return "region"
}

const DefaultRegionSize = 32

func New(mode Mode, regionSize int) (Table, error) {
	if mode == ModeMap {
		return NewMapTable(), nil
	}
	return NewRegionTable(regionSize)
}

func notFound(mod protocol.ModuleID, msg protocol.MessageID) error {
	return fmt.Errorf("%w: module %d message %d", protocol.ErrHandlerNotFound, mod, msg)
}

// cursor is the Put free-slot scan state. Callers hold the table's write lock.
type cursor struct {
	next int
}

func newCursor() cursor { return cursor{next: int(protocol.SystemReserved)} }

func (c *cursor) reset() { c.next = int(protocol.SystemReserved) }

// claim returns the first ID at or after the cursor for which occupied is
// false and moves the cursor past it.
func (c *cursor) claim(occupied func(protocol.MessageID) bool) (protocol.MessageID, error) {
	for id := max(c.next, int(protocol.SystemReserved)); id < 1<<16; id++ {
		if occupied(protocol.MessageID(id)) {
			continue
		}
		c.next = id + 1
		return protocol.MessageID(id), nil
	}
	c.next = 1 << 16
	return 0, protocol.ErrMessageIDExhausted
}

// rewind lets Put reuse a freed module-0 slot.
func (c *cursor) rewind(mod protocol.ModuleID, msg protocol.MessageID) {
	if mod != 0 || msg < protocol.SystemReserved {
		return
	}
	if int(msg) < c.next {
		c.next = int(msg)
	}
}
