package identity

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"modnet/internal/protocol"
)

// Direction says which side handles a message type.
type Direction uint8

const (
	ToClient Direction = 1 << iota
	ToServer
	Both = ToClient | ToServer
)

func (d Direction) String() string {
	switch d {
	case ToClient:
		return "client"
	case ToServer:
		return "server"
	case Both:
		return "both"
	default:
		return "none"
	}
}

// Entry is one assigned identity in the table.
type Entry struct {
	Name      string
	Identity  protocol.Identity
	Direction Direction
}

// Table assigns identities to types once, at declaration, and answers
// lookups by type afterwards. It replaces per-type mutable statics with one
// table built during startup registration.
type Table struct {
	space *Space

	mu       sync.RWMutex
	messages map[reflect.Type]Entry
	groups   map[reflect.Type]protocol.GroupID
}

func NewTable(space *Space) *Table {
	return &Table{
		space:    space,
		messages: make(map[reflect.Type]Entry),
		groups:   make(map[reflect.Type]protocol.GroupID),
	}
}

func (t *Table) Space() *Space { return t.space }

// DeclareGroup allocates a group for typ, or returns the one it already has.
func (t *Table) DeclareGroup(typ reflect.Type) (protocol.GroupID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.groups[typ]; ok {
		return g, nil
	}
	g, err := t.space.NextGroupID()
	if err != nil {
		return 0, fmt.Errorf("declare group %s: %w", TypeName(typ), err)
	}
	t.groups[typ] = g
	return g, nil
}

func (t *Table) Group(typ reflect.Type) (protocol.GroupID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.groups[typ]
	return g, ok
}

// DeclareMessage assigns the next message ID of group to typ and marks its
// lanes in the group's index. Declaring the same type again returns the
// identity it already received.
func (t *Table) DeclareMessage(typ reflect.Type, module protocol.ModuleID, group protocol.GroupID, dir Direction) (protocol.Identity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.messages[typ]; ok {
		return e.Identity, nil
	}
	idx, ok := t.space.Indexer(group)
	if !ok {
		return protocol.Identity{}, fmt.Errorf("declare %s: %w: %d", TypeName(typ), protocol.ErrUnknownGroup, group)
	}
	msg, err := t.space.NextMessageID(group)
	if err != nil {
		return protocol.Identity{}, fmt.Errorf("declare %s: %w", TypeName(typ), err)
	}
	id := protocol.Identity{Module: module, Group: group, Message: msg}
	t.messages[typ] = Entry{Name: TypeName(typ), Identity: id, Direction: dir}

	switch dir {
	case ToClient:
		idx.SetClient(msg)
	case ToServer:
		idx.SetServer(msg)
	default:
		idx.SetBoth(msg)
	}
	return id, nil
}

func (t *Table) Message(typ reflect.Type) (protocol.Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.messages[typ]
	return e.Identity, ok
}

func (t *Table) Entry(typ reflect.Type) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.messages[typ]
	return e, ok
}

// Manifest lists every assigned identity ordered by group, module, message.
func (t *Table) Manifest() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.messages))
	for _, e := range t.messages {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Identity, out[j].Identity
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Message < b.Message
	})
	return out
}

// TypeOf is reflect.TypeFor, named for call sites that declare identities.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// TypeName is the stable name used in manifests: import path plus type name,
// pointer types are named after their element.
func TypeName(typ reflect.Type) string {
	if typ == nil {
		return "<nil>"
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.PkgPath() == "" {
		return typ.String()
	}
	return typ.PkgPath() + "." + typ.Name()
}
