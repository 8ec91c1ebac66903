package chat

import (
	"sync/atomic"

	"go.uber.org/zap"

	"modnet/internal/common/logging"
	"modnet/internal/handler"
	"modnet/internal/identity"
	"modnet/internal/modules/core"
	"modnet/internal/payload"
	"modnet/internal/protocol"
	"modnet/internal/registry"
	"modnet/internal/transport"
)

const (
	Name = "chat"

	MaxTextLen = 512
)

// Say is a line for everyone.
type Say struct{ Text string }

func (s *Say) Read(m *transport.Message) error {
	v, err := m.ReadString()
	s.Text = v
	return err
}

func (s *Say) Write(m *transport.Message) error {
	m.WriteString(s.Text)
	return nil
}

func (s *Say) Reset() { s.Text = "" }

// Whisper is a line for one session. It is scoped to the chat module.
type Whisper struct {
	To   string
	Text string
}

func (w *Whisper) Read(m *transport.Message) error {
	to, err := m.ReadString()
	if err != nil {
		return err
	}
	text, err := m.ReadString()
	if err != nil {
		return err
	}
	w.To, w.Text = to, text
	return nil
}

func (w *Whisper) Write(m *transport.Message) error {
	m.WriteString(w.To)
	m.WriteString(w.Text)
	return nil
}

// Said is what clients receive.
type Said struct {
	From    string
	Text    string
	Private bool
}

func (s *Said) Read(m *transport.Message) error {
	from, err := m.ReadString()
	if err != nil {
		return err
	}
	text, err := m.ReadString()
	if err != nil {
		return err
	}
	private, err := m.ReadBool()
	if err != nil {
		return err
	}
	s.From, s.Text, s.Private = from, text, private
	return nil
}

func (s *Said) Write(m *transport.Message) error {
	m.WriteString(s.From)
	m.WriteString(s.Text)
	m.WriteBool(s.Private)
	return nil
}

type Outbound interface {
	Send(to transport.SenderID, p payload.Payload) error
	Broadcast(p payload.Payload) (int, error)
}

type Module struct {
	logger *zap.Logger
	out    atomic.Pointer[Outbound]
	pool   *payload.SyncPool[Say, *Say]

	// DisplayName maps a sender to the name shown to others. Defaults to the
	// sender ID.
	DisplayName func(transport.SenderID) string
	// OnSaid runs on the client for every line received.
	OnSaid func(*Said)
}

func New(logger *zap.Logger) *Module {
	return &Module{
		logger: logging.OrNop(logger).Named(Name),
		pool:   payload.NewSyncPool[Say, *Say](),
	}
}

func (m *Module) Bind(out Outbound) { m.out.Store(&out) }

func (m *Module) Name() string           { return Name }
func (m *Module) Dependencies() []string { return []string{core.Name} }

func (m *Module) Declare(d *registry.Declarer) error {
	if _, err := registry.DeclareMessage[Say](d, protocol.DefaultGroup, identity.ToServer); err != nil {
		return err
	}
	if _, err := registry.DeclareScoped[Whisper](d, protocol.DefaultGroup, identity.ToServer); err != nil {
		return err
	}
	_, err := registry.DeclareMessage[Said](d, protocol.DefaultGroup, identity.ToClient)
	return err
}

func (m *Module) Handlers() []registry.Candidate {
	return []registry.Candidate{
		registry.On(m.onSay).Named("chat.say").With(handler.WithPool(m.pool), handler.AutoRelease()),
		registry.On(m.onWhisper).Named("chat.whisper"),
		registry.On(m.onSaid).Named("chat.said"),
	}
}

func (m *Module) nameOf(id transport.SenderID) string {
	if m.DisplayName != nil {
		if n := m.DisplayName(id); n != "" {
			return n
		}
	}
	return id.String()
}

func (m *Module) outbound() Outbound {
	if out := m.out.Load(); out != nil {
		return *out
	}
	return nil
}

func valid(text string) bool { return text != "" && len(text) <= MaxTextLen }

func (m *Module) onSay(from transport.SenderID, s *Say) {
	out := m.outbound()
	if out == nil || !valid(s.Text) {
		m.logger.Debug("say dropped", zap.Stringer("sender", from), zap.Int("len", len(s.Text)))
		return
	}
	n, err := out.Broadcast(&Said{From: m.nameOf(from), Text: s.Text})
	if err != nil {
		m.logger.Warn("broadcast failed", zap.Stringer("sender", from), zap.Error(err))
		return
	}
	m.logger.Debug("say", zap.Stringer("sender", from), zap.Int("delivered", n))
}

func (m *Module) onWhisper(from transport.SenderID, w *Whisper) {
	out := m.outbound()
	if out == nil || !valid(w.Text) {
		return
	}
	to, err := transport.ParseSenderID(w.To)
	if err != nil {
		m.logger.Debug("whisper target", zap.String("to", w.To), zap.Error(err))
		return
	}
	if err := out.Send(to, &Said{From: m.nameOf(from), Text: w.Text, Private: true}); err != nil {
		m.logger.Info("whisper failed", zap.Stringer("sender", from), zap.String("to", w.To), zap.Error(err))
	}
}

func (m *Module) onSaid(s *Said) {
	if m.OnSaid != nil {
		m.OnSaid(s)
	}
}
