package registry

import (
	"fmt"
	"reflect"
	"slices"

	"modnet/internal/handler"
	"modnet/internal/protocol"
)

// Tag is the dispatch declaration attached to a handler. Every field is
// optional; unset fields are resolved from the payload type's identity.
type Tag struct {
	module      *protocol.ModuleID
	group       *protocol.GroupID
	message     *protocol.MessageID
	groupType   reflect.Type
	payloadType reflect.Type
	err         error
}

type TagOption func(*Tag)

func (t *Tag) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func ModuleID(id protocol.ModuleID) TagOption {
	return func(t *Tag) {
		if t.module != nil {
			t.fail(fmt.Errorf("%w: module id", protocol.ErrDuplicateTag))
			return
		}
		t.module = &id
	}
}

func GroupID(id protocol.GroupID) TagOption {
	return func(t *Tag) {
		switch {
		case t.group != nil:
			t.fail(fmt.Errorf("%w: group id", protocol.ErrDuplicateTag))
		case t.groupType != nil:
			t.fail(fmt.Errorf("%w: group id %d and group type %s", protocol.ErrConflictingTag, id, t.groupType))
		default:
			t.group = &id
		}
	}
}

func MessageID(id protocol.MessageID) TagOption {
	return func(t *Tag) {
		switch {
		case t.message != nil:
			t.fail(fmt.Errorf("%w: message id", protocol.ErrDuplicateTag))
		case t.payloadType != nil:
			t.fail(fmt.Errorf("%w: message id %d and payload type %s", protocol.ErrConflictingTag, id, t.payloadType))
		default:
			t.message = &id
		}
	}
}

// GroupOf names the group by its declaring type.
func GroupOf[G any]() TagOption {
	typ := typeKey(reflect.TypeFor[G]())
	return func(t *Tag) {
		switch {
		case t.groupType != nil:
			t.fail(fmt.Errorf("%w: group type", protocol.ErrDuplicateTag))
		case t.group != nil:
			t.fail(fmt.Errorf("%w: group id %d and group type %s", protocol.ErrConflictingTag, *t.group, typ))
		default:
			t.groupType = typ
		}
	}
}

// PayloadOf takes the message identity from a declared payload type.
func PayloadOf[P any]() TagOption {
	typ := typeKey(reflect.TypeFor[P]())
	return func(t *Tag) {
		switch {
		case t.payloadType != nil:
			t.fail(fmt.Errorf("%w: payload type", protocol.ErrDuplicateTag))
		case t.message != nil:
			t.fail(fmt.Errorf("%w: message id %d and payload type %s", protocol.ErrConflictingTag, *t.message, typ))
		default:
			t.payloadType = typ
		}
	}
}

func NewTag(opts ...TagOption) Tag {
	var t Tag
	for _, o := range opts {
		o(&t)
	}
	return t
}

func (t Tag) Err() error { return t.err }

// Candidate is one handler a module offers for registration. Fn is either a
// handler.Descriptor or a function Classify accepts.
type Candidate struct {
	Name string
	Tag  Tag
	Fn   any
	Opts []handler.Option
}

// On pairs fn with a dispatch tag.
func On(fn any, opts ...TagOption) Candidate {
	return Candidate{Tag: NewTag(opts...), Fn: fn}
}

// Named sets the name used in logs and errors.
func (c Candidate) Named(name string) Candidate {
	c.Name = name
	c.Opts = append(slices.Clip(c.Opts), handler.Named(name))
	return c
}

// With adds descriptor options such as handler.AutoRelease.
func (c Candidate) With(opts ...handler.Option) Candidate {
	c.Opts = append(slices.Clip(c.Opts), opts...)
	return c
}

func typeKey(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
