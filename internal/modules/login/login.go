// Package login binds a session to an account. Requests and replies carry
// protobuf wrappers so other stacks can produce them.
package login

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"modnet/internal/common/logging"
	"modnet/internal/identity"
	"modnet/internal/modules/core"
	"modnet/internal/payload"
	"modnet/internal/protocol"
	"modnet/internal/registry"
	"modnet/internal/service"
	"modnet/internal/transport"
)

const (
	Name = "login"

	// Session attributes set on success.
	AttrAccount = "account"
	AttrUID     = "uid"
)

// Request carries the account name.
type Request struct{ payload.Proto[*wrapperspb.StringValue] }

// Result carries the user ID, or 0 when the login was refused.
type Result struct{ payload.Proto[*wrapperspb.Int64Value] }

func NewRequest(account string) *Request {
	r := &Request{}
	r.Msg = wrapperspb.String(account)
	return r
}

func (r *Result) UID() int64 {
	if r.Msg == nil {
		return 0
	}
	return r.Msg.GetValue()
}

// UIDGenerator resolves an account to its user ID.
type UIDGenerator interface {
	Resolve(ctx context.Context, account string) (uid int64, created bool, err error)
}

// Server is what the module needs from the serving side.
type Server interface {
	Send(to transport.SenderID, p payload.Payload) error
	Sessions() *service.SessionManager
}

type Options struct {
	UIDs UIDGenerator
	// At most RateLimit attempts per session every RateWindow. Zero
	// disables the limit.
	RateLimit  int
	RateWindow time.Duration
	Timeout    time.Duration
}

type Module struct {
	logger *zap.Logger
	opts   Options
	srv    atomic.Pointer[Server]

	mu       sync.Mutex
	attempts map[transport.SenderID]*window
	localUID atomic.Int64
	local    map[string]int64

	// OnResult runs on the client when the server answers.
	OnResult func(uid int64)
}

type window struct {
	start time.Time
	count int
}

func New(logger *zap.Logger, opts Options) *Module {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	return &Module{
		logger:   logging.OrNop(logger).Named(Name),
		opts:     opts,
		attempts: make(map[transport.SenderID]*window),
		local:    make(map[string]int64),
	}
}

func (m *Module) Bind(srv Server) { m.srv.Store(&srv) }

func (m *Module) Name() string           { return Name }
func (m *Module) Dependencies() []string { return []string{core.Name} }

func (m *Module) Declare(d *registry.Declarer) error {
	if _, err := registry.DeclareMessage[Request](d, protocol.DefaultGroup, identity.ToServer); err != nil {
		return err
	}
	_, err := registry.DeclareMessage[Result](d, protocol.DefaultGroup, identity.ToClient)
	return err
}

func (m *Module) Handlers() []registry.Candidate {
	return []registry.Candidate{
		registry.On(m.onRequest).Named("login.request"),
		registry.On(m.onResult).Named("login.result"),
	}
}

func (m *Module) allow(id transport.SenderID, now time.Time) bool {
	if m.opts.RateLimit <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.attempts[id]
	if !ok || now.Sub(w.start) > m.opts.RateWindow {
		w = &window{start: now}
		m.attempts[id] = w
	}
	w.count++
	return w.count <= m.opts.RateLimit
}

// Forget drops rate limit state for a closed session.
func (m *Module) Forget(id transport.SenderID) {
	m.mu.Lock()
	delete(m.attempts, id)
	m.mu.Unlock()
}

func (m *Module) resolve(ctx context.Context, account string) (int64, error) {
	if m.opts.UIDs != nil {
		uid, created, err := m.opts.UIDs.Resolve(ctx, account)
		if err == nil && created {
			m.logger.Info("account created", zap.String("account", account), zap.Int64("uid", uid))
		}
		return uid, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.local[account]
	if !ok {
		uid = m.localUID.Add(1)
		m.local[account] = uid
	}
	return uid, nil
}

func (m *Module) onRequest(from transport.SenderID, req *Request) {
	srvp := m.srv.Load()
	if srvp == nil {
		m.logger.Warn("login dropped", zap.String("reason", "module not bound"))
		return
	}
	srv := *srvp
	account := req.Msg.GetValue()

	reply := &Result{}
	reply.Msg = wrapperspb.Int64(0)
	switch {
	case account == "":
		m.logger.Info("login refused", zap.Stringer("sender", from), zap.String("reason", "empty account"))
	case !m.allow(from, time.Now()):
		m.logger.Info("login refused", zap.Stringer("sender", from), zap.String("reason", "rate limited"))
	default:
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
		uid, err := m.resolve(ctx, account)
		cancel()
		if err != nil {
			m.logger.Error("login failed", zap.String("account", account), zap.Error(err))
			break
		}
		if s := srv.Sessions().Get(from); s != nil {
			s.Set(AttrAccount, account)
			s.Set(AttrUID, strconv.FormatInt(uid, 10))
		}
		reply.Msg = wrapperspb.Int64(uid)
		m.logger.Info("login", zap.Stringer("sender", from), zap.String("account", account), zap.Int64("uid", uid))
	}
	if err := srv.Send(from, reply); err != nil {
		m.logger.Warn("login reply failed", zap.Stringer("sender", from), zap.Error(err))
	}
}

func (m *Module) onResult(res *Result) {
	if m.OnResult != nil {
		m.OnResult(res.UID())
	}
}
