// Package core is the home module: every other module depends on it. It
// owns the keepalive messages.
package core

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"modnet/internal/common/logging"
	"modnet/internal/identity"
	"modnet/internal/payload"
	"modnet/internal/protocol"
	"modnet/internal/registry"
	"modnet/internal/transport"
)

const Name = registry.DefaultHomeModule

// Ping travels to the server, Pong answers it with the same sequence and
// the client's send time.
type Ping struct {
	Seq    uint32
	SentAt int64
}

func (p *Ping) Read(m *transport.Message) error {
	seq, err := m.ReadUint32()
	if err != nil {
		return err
	}
	at, err := m.ReadInt64()
	if err != nil {
		return err
	}
	p.Seq, p.SentAt = seq, at
	return nil
}

func (p *Ping) Write(m *transport.Message) error {
	m.WriteUint32(p.Seq)
	m.WriteInt64(p.SentAt)
	return nil
}

type Pong Ping

// Echo is returned to its sender unchanged.
type Echo struct{ Data []byte }

func (e *Echo) Read(m *transport.Message) error {
	b, err := m.ReadBytes()
	e.Data = b
	return err
}

func (e *Echo) Write(m *transport.Message) error {
	m.WriteBytes(e.Data)
	return nil
}

func (p *Pong) Read(m *transport.Message) error  { return (*Ping)(p).Read(m) }
func (p *Pong) Write(m *transport.Message) error { return (*Ping)(p).Write(m) }

// Replier sends a payload to one peer.
type Replier interface {
	Send(to transport.SenderID, p payload.Payload) error
}

type Module struct {
	logger *zap.Logger
	out    atomic.Pointer[Replier]
	seq    atomic.Uint32

	// OnPong runs on the client for every answered ping.
	OnPong func(seq uint32, rtt time.Duration)
	OnEcho func(data []byte)
}

func New(logger *zap.Logger) *Module {
	return &Module{logger: logging.OrNop(logger).Named(Name)}
}

// Bind sets where server-side replies go.
func (m *Module) Bind(out Replier) { m.out.Store(&out) }

func (m *Module) Name() string           { return Name }
func (m *Module) Dependencies() []string { return nil }

func (m *Module) Declare(d *registry.Declarer) error {
	if _, err := registry.DeclareMessage[Ping](d, protocol.DefaultGroup, identity.ToServer); err != nil {
		return err
	}
	if _, err := registry.DeclareMessage[Pong](d, protocol.DefaultGroup, identity.ToClient); err != nil {
		return err
	}
	_, err := registry.DeclareMessage[Echo](d, protocol.DefaultGroup, identity.Both)
	return err
}

func (m *Module) Handlers() []registry.Candidate {
	return []registry.Candidate{
		registry.On(m.onPing).Named("core.ping"),
		registry.On(m.onPong).Named("core.pong"),
		registry.On(m.onEcho, registry.PayloadOf[Echo]()).Named("core.echo"),
		registry.On(m.onEchoed).Named("core.echoed"),
	}
}

// NextPing builds the next ping to send.
func (m *Module) NextPing() *Ping {
	return &Ping{Seq: m.seq.Add(1), SentAt: time.Now().UnixNano()}
}

func (m *Module) onPing(from transport.SenderID, p *Ping) {
	out := m.out.Load()
	if out == nil {
		m.logger.Warn("ping dropped", zap.String("reason", "module not bound"))
		return
	}
	pong := Pong(*p)
	if err := (*out).Send(from, &pong); err != nil {
		m.logger.Warn("pong failed", zap.Stringer("sender", from), zap.Error(err))
	}
}

func (m *Module) onPong(p *Pong) {
	rtt := time.Since(time.Unix(0, p.SentAt))
	m.logger.Debug("pong", zap.Uint32("seq", p.Seq), zap.Duration("rtt", rtt))
	if m.OnPong != nil {
		m.OnPong(p.Seq, rtt)
	}
}

func (m *Module) onEcho(from transport.SenderID, msg *transport.Message) {
	out := m.out.Load()
	if out == nil {
		return
	}
	data, err := msg.ReadBytes()
	if err != nil {
		m.logger.Debug("echo decode", zap.Stringer("sender", from), zap.Error(err))
		return
	}
	if err := (*out).Send(from, &Echo{Data: data}); err != nil {
		m.logger.Warn("echo failed", zap.Stringer("sender", from), zap.Error(err))
	}
}

func (m *Module) onEchoed(e *Echo) {
	if m.OnEcho != nil {
		m.OnEcho(e.Data)
	}
}
