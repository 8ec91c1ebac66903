package payload

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"

	"modnet/internal/transport"
)

// Proto carries a protobuf message as a length-prefixed field. Embed it in a
// named struct so every message kind gets its own identity:
//
//	type LoginReq struct{ payload.Proto[*wrapperspb.StringValue] }
type Proto[M proto.Message] struct {
	Msg M
}

func (p *Proto[M]) ensure() {
	if reflect.ValueOf(p.Msg).IsNil() {
		p.Msg = reflect.New(reflect.TypeFor[M]().Elem()).Interface().(M)
	}
}

func (p *Proto[M]) Read(m *transport.Message) error {
	data, err := m.ReadBytes()
	if err != nil {
		return err
	}
	p.ensure()
	if err := proto.Unmarshal(data, p.Msg); err != nil {
		return fmt.Errorf("proto payload: %w", err)
	}
	return nil
}

func (p *Proto[M]) Write(m *transport.Message) error {
	p.ensure()
	data, err := proto.Marshal(p.Msg)
	if err != nil {
		return fmt.Errorf("proto payload: %w", err)
	}
	m.WriteBytes(data)
	return nil
}

func (p *Proto[M]) Reset() {
	if !reflect.ValueOf(p.Msg).IsNil() {
		proto.Reset(p.Msg)
	}
}
