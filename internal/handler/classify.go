package handler

import (
	"fmt"
	"reflect"

	"modnet/internal/payload"
	"modnet/internal/protocol"
	"modnet/internal/transport"
)

var (
	payloadType = reflect.TypeFor[payload.Payload]()
	messageType = reflect.TypeFor[*transport.Message]()
	senderType  = reflect.TypeFor[transport.SenderID]()
)

// Classify inspects fn's signature and builds the matching descriptor.
// Accepted shapes:
//
//	func(P)                                  client payload
//	func(*transport.Message)                 client raw
//	func(transport.SenderID, P)              server payload
//	func(transport.SenderID, *transport.Message) server raw
//
// where P is a pointer type implementing payload.Payload. Handlers must not
// return values. Anything else fails with ErrBadSignature.
func Classify(fn any, opts ...Option) (Descriptor, error) {
	if d, ok := fn.(Descriptor); ok {
		return d.apply(opts), nil
	}
	// Typed function values skip reflection entirely.
	switch f := fn.(type) {
	case func(*transport.Message):
		return ClientRaw(f, opts...), nil
	case func(transport.SenderID, *transport.Message):
		return ServerRaw(f, opts...), nil
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return Descriptor{}, fmt.Errorf("%w: %T is not a function", protocol.ErrBadSignature, fn)
	}
	t := v.Type()
	if t.NumOut() != 0 || t.IsVariadic() {
		return Descriptor{}, fmt.Errorf("%w: %s", protocol.ErrBadSignature, t)
	}

	switch t.NumIn() {
	case 1:
		pt := t.In(0)
		if pt == messageType {
			return ClientRaw(func(m *transport.Message) {
				v.Call([]reflect.Value{reflect.ValueOf(m)})
			}, opts...), nil
		}
		if !isPayloadPtr(pt) {
			return Descriptor{}, fmt.Errorf("%w: %s: parameter %s is not a payload pointer",
				protocol.ErrBadSignature, t, pt)
		}
		return Descriptor{
			Kind:        KindClientPayload,
			PayloadType: pt,
			newFn:       allocator(pt),
			client: func(p payload.Payload) {
				v.Call([]reflect.Value{reflect.ValueOf(p)})
			},
		}.apply(opts), nil
	case 2:
		if t.In(0) != senderType {
			return Descriptor{}, fmt.Errorf("%w: %s: first parameter must be %s",
				protocol.ErrBadSignature, t, senderType)
		}
		pt := t.In(1)
		if pt == messageType {
			return ServerRaw(func(s transport.SenderID, m *transport.Message) {
				v.Call([]reflect.Value{reflect.ValueOf(s), reflect.ValueOf(m)})
			}, opts...), nil
		}
		if !isPayloadPtr(pt) {
			return Descriptor{}, fmt.Errorf("%w: %s: parameter %s is not a payload pointer",
				protocol.ErrBadSignature, t, pt)
		}
		return Descriptor{
			Kind:        KindServerPayload,
			PayloadType: pt,
			newFn:       allocator(pt),
			server: func(s transport.SenderID, p payload.Payload) {
				v.Call([]reflect.Value{reflect.ValueOf(s), reflect.ValueOf(p)})
			},
		}.apply(opts), nil
	default:
		return Descriptor{}, fmt.Errorf("%w: %s takes %d parameters", protocol.ErrBadSignature, t, t.NumIn())
	}
}

func isPayloadPtr(t reflect.Type) bool {
	return t.Kind() == reflect.Pointer && t != messageType && t.Implements(payloadType)
}

func allocator(pt reflect.Type) func() payload.Payload {
	elem := pt.Elem()
	return func() payload.Payload {
		return reflect.New(elem).Interface().(payload.Payload)
	}
}
