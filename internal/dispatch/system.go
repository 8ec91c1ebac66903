package dispatch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"modnet/internal/common/logging"
	"modnet/internal/protocol"
	"modnet/internal/transport"
)

// SystemHandler receives messages carrying a reserved tag. The header has
// already been consumed; m is positioned at the system body.
type SystemHandler interface {
	HandleSystem(sender transport.SenderID, tag protocol.SystemMessageID, m *transport.Message) error
}

type SystemFunc func(sender transport.SenderID, tag protocol.SystemMessageID, m *transport.Message) error

func (f SystemFunc) HandleSystem(sender transport.SenderID, tag protocol.SystemMessageID, m *transport.Message) error {
	return f(sender, tag, m)
}

// SystemRouter fans system messages out by tag.
type SystemRouter struct {
	mu       sync.RWMutex
	handlers map[protocol.SystemMessageID]SystemHandler
}

func NewSystemRouter() *SystemRouter {
	return &SystemRouter{handlers: make(map[protocol.SystemMessageID]SystemHandler)}
}

func (r *SystemRouter) Handle(tag protocol.SystemMessageID, h SystemHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tag] = h
}

func (r *SystemRouter) HandleSystem(sender transport.SenderID, tag protocol.SystemMessageID, m *transport.Message) error {
	r.mu.RLock()
	h, ok := r.handlers[tag]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: system tag %s", protocol.ErrHandlerNotFound, tag)
	}
	return h.HandleSystem(sender, tag, m)
}

// ValidationResult is one manifest comparison.
type ValidationResult struct {
	Sender transport.SenderID
	Local  uint64
	Remote uint64
}

func (v ValidationResult) OK() bool { return v.Local == v.Remote }

// Validator compares identity manifest hashes with a peer. A check carries
// the sender's hash; the answer is a response carrying an ok flag and the
// answering side's hash.
type Validator struct {
	layout Layout
	local  func() uint64
	log    *zap.Logger

	// Reply sends the response to a check. Nil means checks are not answered.
	Reply func(sender transport.SenderID, m *transport.Message) error
	// OnResult is called for every comparison, checks and responses alike.
	OnResult func(ValidationResult)
}

func NewValidator(layout Layout, local func() uint64, log *zap.Logger) *Validator {
	return &Validator{layout: layout, local: local, log: logging.OrNop(log)}
}

// Check builds the validation check message for this side.
func (v *Validator) Check(mode transport.SendMode) (*transport.Message, error) {
	m := transport.NewMessage(mode)
	if err := v.layout.Write(m, Header{Tag: protocol.SystemValidationCheck}); err != nil {
		return nil, err
	}
	m.WriteUint64(v.local())
	return m, nil
}

func (v *Validator) HandleSystem(sender transport.SenderID, tag protocol.SystemMessageID, m *transport.Message) error {
	switch tag {
	case protocol.SystemValidationCheck:
		remote, err := m.ReadUint64()
		if err != nil {
			return fmt.Errorf("read manifest hash: %w", err)
		}
		res := v.report(sender, remote)
		if v.Reply == nil {
			return nil
		}
		out := transport.NewMessage(transport.Reliable)
		if err := v.layout.Write(out, Header{Tag: protocol.SystemResponse}); err != nil {
			return err
		}
		out.WriteBool(res.OK())
		out.WriteUint64(res.Local)
		return v.Reply(sender, out)
	case protocol.SystemResponse:
		if _, err := m.ReadBool(); err != nil {
			return fmt.Errorf("read validation flag: %w", err)
		}
		remote, err := m.ReadUint64()
		if err != nil {
			return fmt.Errorf("read manifest hash: %w", err)
		}
		v.report(sender, remote)
		return nil
	default:
		return fmt.Errorf("%w: validator got %s", protocol.ErrSideMismatch, tag)
	}
}

func (v *Validator) report(sender transport.SenderID, remote uint64) ValidationResult {
	res := ValidationResult{Sender: sender, Local: v.local(), Remote: remote}
	if res.OK() {
		v.log.Debug("manifest validated", zap.Stringer("sender", sender))
	} else {
		v.log.Warn("manifest mismatch",
			zap.Stringer("sender", sender),
			zap.Uint64("local", res.Local),
			zap.Uint64("remote", res.Remote),
		)
	}
	if v.OnResult != nil {
		v.OnResult(res)
	}
	return res
}
