// Package client keeps one connection to a server alive and feeds its
// inbound messages to the client dispatcher.
package client

import (
	"context"
	"errors"
	"net"
	"strings"
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

var ErrNotConnected = errors.New("client not connected")

type DialFunc func(ctx context.Context, addr string) (transport.Conn, error)

type Options struct {
	Addr              string
	Layout            dispatch.Layout
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// Validate sends a manifest check right after every connect.
	Validate bool
	Dial     DialFunc

	OnConnect    func()
	OnDisconnect func(err error)
	OnValidated  func(dispatch.ValidationResult)
}

type Client struct {
	reg        *registry.Registry
	logger     *zap.Logger
	opts       Options
	dispatcher *dispatch.Client
	validator  *dispatch.Validator

	mu   sync.RWMutex
	conn transport.Conn
}

func New(reg *registry.Registry, logger *zap.Logger, m *metrics.Metrics, opts Options) *Client {
	if opts.Layout == (dispatch.Layout{}) {
		opts.Layout = dispatch.DefaultLayout()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 500 * time.Millisecond
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = 10 * opts.ReconnectDelay
	}
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	c := &Client{
		reg:    reg,
		logger: logging.OrNop(logger),
		opts:   opts,
	}
	c.validator = dispatch.NewValidator(opts.Layout, reg.ManifestHash, c.logger)
	c.validator.OnResult = opts.OnValidated

	system := dispatch.NewSystemRouter()
	system.Handle(protocol.SystemResponse, c.validator)
	system.Handle(protocol.SystemValidationCheck, c.validator)
	c.validator.Reply = func(_ transport.SenderID, m *transport.Message) error { return c.SendRaw(m) }

	c.dispatcher = dispatch.NewClient(reg,
		dispatch.WithLayout(opts.Layout),
		dispatch.WithSystem(system),
		dispatch.WithMetrics(m),
		dispatch.WithReporter(dispatch.NewLogReporter(c.logger, m)),
	)
	return c
}

// Dial connects over TCP, or over websocket for ws:// and wss:// addresses.
func Dial(ctx context.Context, addr string) (transport.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return transport.NewWSConn(ws), nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return transport.NewBufferedConn(conn), nil
}

func (c *Client) Dispatcher() *dispatch.Client { return c.dispatcher }

// SetGroup switches the session group handlers are looked up in.
func (c *Client) SetGroup(g protocol.GroupID) { c.dispatcher.SetGroup(g) }

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Run connects, reads until the connection drops and reconnects with
// exponential backoff until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := c.opts.Dial(ctx, c.opts.Addr)
		if err != nil {
			c.logger.Warn("dial failed",
				zap.String("addr", c.opts.Addr),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.opts.MaxReconnectDelay)
			continue
		}
		backoff = c.opts.ReconnectDelay
		err = c.serve(ctx, conn)
		if c.opts.OnDisconnect != nil {
			c.opts.OnDisconnect(err)
		}
	}
}

func (c *Client) serve(ctx context.Context, conn transport.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("connected", zap.String("addr", conn.RemoteAddr()))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if c.opts.Validate {
		check, err := c.validator.Check(transport.Reliable)
		if err == nil {
			err = conn.WriteMessage(check)
		}
		if err != nil {
			c.logger.Warn("manifest check not sent", zap.Error(err))
		}
	}
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}

	for {
		m, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("disconnected", zap.String("reason", err.Error()))
			return err
		}
		if err := c.dispatcher.Dispatch(m); err != nil {
			c.logger.Debug("dispatch error", zap.Error(err))
		}
	}
}

func (c *Client) SendRaw(m *transport.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(m)
}

// Send encodes p for the server side and writes it.
func (c *Client) Send(p payload.Payload) error {
	m, err := dispatch.Encode(c.reg, c.opts.Layout, identity.ToServer, transport.Reliable, p)
	if err != nil {
		return err
	}
	return c.SendRaw(m)
}
