// Package service runs the server side: it accepts stream and websocket
// connections, keeps a session per connection and feeds every inbound
// message to the server dispatcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"modnet/internal/common/logging"
	"modnet/internal/dispatch"
	"modnet/internal/identity"
	"modnet/internal/metrics"
	"modnet/internal/payload"
	"modnet/internal/protocol"
	"modnet/internal/registry"
	"modnet/internal/transport"
)

var ErrSessionNotFound = errors.New("session not found")

type Options struct {
	Layout        dispatch.Layout
	ConnOptions   transport.ConnOptions
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// OnOpen and OnClose run on the connection goroutine.
	OnOpen  func(*Session)
	OnClose func(*Session)
}

type Server struct {
	reg      *registry.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
	sessions *SessionManager

	dispatcher *dispatch.Server
	system     *dispatch.SystemRouter
	validator  *dispatch.Validator

	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func NewServer(reg *registry.Registry, logger *zap.Logger, m *metrics.Metrics, opts Options) *Server {
	if opts.Layout == (dispatch.Layout{}) {
		opts.Layout = dispatch.DefaultLayout()
	}
	s := &Server{
		reg:      reg,
		logger:   logging.OrNop(logger),
		metrics:  m,
		opts:     opts,
		sessions: NewSessionManager(),
		system:   dispatch.NewSystemRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.validator = dispatch.NewValidator(opts.Layout, reg.ManifestHash, s.logger)
	s.validator.Reply = s.SendRaw
	s.system.Handle(protocol.SystemValidationCheck, s.validator)

	s.dispatcher = dispatch.NewServer(reg,
		dispatch.WithLayout(opts.Layout),
		dispatch.WithSystem(s.system),
		dispatch.WithMetrics(m),
		dispatch.WithReporter(dispatch.NewLogReporter(s.logger, m)),
		dispatch.WithGroupResolver(s.groupOf),
	)
	return s
}

func (s *Server) Sessions() *SessionManager       { return s.sessions }
func (s *Server) System() *dispatch.SystemRouter  { return s.system }
func (s *Server) Validator() *dispatch.Validator  { return s.validator }
func (s *Server) Dispatcher() *dispatch.Server    { return s.dispatcher }
func (s *Server) Layout() dispatch.Layout         { return s.opts.Layout }
func (s *Server) Registry() *registry.Registry    { return s.reg }

func (s *Server) groupOf(id transport.SenderID) protocol.GroupID {
	if sess := s.sessions.Get(id); sess != nil {
		return sess.Group()
	}
	return protocol.DefaultGroup
}

// ListenAndServe accepts stream connections on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	if s.opts.IdleTimeout > 0 {
		go s.sweepLoop(ctx)
	}
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, transport.NewBufferedConnWithOptions(conn, s.opts.ConnOptions))
		}()
	}
}

// WebSocketHandler upgrades requests and serves them like stream
// connections.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s.ServeConn(ctx, transport.NewWSConn(ws))
	})
}

// ServeConn reads conn until it fails or ctx ends. Dispatch errors are
// logged and the loop goes on; one bad message never drops the peer.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) {
	sess := newSession(conn)
	s.sessions.Add(sess)
	if s.metrics != nil {
		s.metrics.Sessions.Inc()
	}
	s.logger.Info("session opened", sessionFields(sess)...)
	if s.opts.OnOpen != nil {
		s.opts.OnOpen(sess)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		s.sessions.Remove(sess.ID)
		if s.metrics != nil {
			s.metrics.Sessions.Dec()
		}
		if s.opts.OnClose != nil {
			s.opts.OnClose(sess)
		}
	}()

	for {
		m, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("session closed", append(sessionFields(sess), zap.String("reason", err.Error()))...)
			return
		}
		sess.Touch()
		if s.metrics != nil {
			s.metrics.Frames.WithLabelValues("in").Inc()
		}
		if err := s.dispatcher.Dispatch(sess.ID, m); err != nil {
			s.logger.Debug("dispatch error", append(sessionFields(sess), zap.Error(err))...)
		}
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.opts.SweepInterval
	if interval <= 0 {
		interval = s.opts.IdleTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep closes sessions idle for longer than the idle timeout and returns
// how many it closed.
func (s *Server) Sweep(now time.Time) int {
	idle := s.sessions.Idle(now, s.opts.IdleTimeout)
	closed := 0
	for _, sess := range idle {
		if err := s.Kick(sess.ID, "idle timeout"); err == nil {
			closed++
		}
	}
	return closed
}

// SendRaw writes an already encoded message.
func (s *Server) SendRaw(to transport.SenderID, m *transport.Message) error {
	sess := s.sessions.Get(to)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, to)
	}
	if err := sess.Conn.WriteMessage(m); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Frames.WithLabelValues("out").Inc()
	}
	return nil
}

// Send encodes p for the client side and writes it to one session.
func (s *Server) Send(to transport.SenderID, p payload.Payload) error {
	m, err := dispatch.Encode(s.reg, s.opts.Layout, identity.ToClient, transport.Reliable, p)
	if err != nil {
		return err
	}
	return s.SendRaw(to, m)
}

// Broadcast sends p to every session and returns how many writes succeeded.
func (s *Server) Broadcast(p payload.Payload) (int, error) {
	m, err := dispatch.Encode(s.reg, s.opts.Layout, identity.ToClient, transport.Reliable, p)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, sess := range s.sessions.Snapshot() {
		if err := s.SendRaw(sess.ID, m); err != nil {
			s.logger.Warn("broadcast write failed", append(sessionFields(sess), zap.Error(err))...)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Server) Kick(id transport.SenderID, reason string) error {
	sess := s.sessions.Get(id)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.logger.Info("kick", append(sessionFields(sess), zap.String("reason", reason))...)
	return sess.Conn.Close()
}

// SetGroup moves a session's dispatch into group g.
func (s *Server) SetGroup(id transport.SenderID, g protocol.GroupID) error {
	sess := s.sessions.Get(id)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.SetGroup(g)
	return nil
}
