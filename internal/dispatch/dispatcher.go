package dispatch

import (
	"errors"
	"sync/atomic"

	"modnet/internal/handler"
	"modnet/internal/metrics"
	"modnet/internal/protocol"
	"modnet/internal/registry"
	"modnet/internal/transport"
)

// GroupResolver picks the group a server-side sender's messages belong to.
type GroupResolver func(sender transport.SenderID) protocol.GroupID

type options struct {
	layout   Layout
	reporter Reporter
	system   SystemHandler
	metrics  *metrics.Metrics
	groups   GroupResolver
}

type Option func(*options)

func WithLayout(l Layout) Option            { return func(o *options) { o.layout = l } }
func WithReporter(r Reporter) Option        { return func(o *options) { o.reporter = r } }
func WithSystem(h SystemHandler) Option     { return func(o *options) { o.system = h } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithGroupResolver is only used by Server.
func WithGroupResolver(fn GroupResolver) Option { return func(o *options) { o.groups = fn } }

func buildOptions(opts []Option) options {
	o := options{layout: DefaultLayout()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.reporter == nil {
		o.reporter = NewLogReporter(nil, o.metrics)
	}
	return o
}

// missed reports whether err means nothing is registered for the message.
func missed(err error) bool {
	return errors.Is(err, protocol.ErrHandlerNotFound) || errors.Is(err, protocol.ErrUnknownGroup)
}

type core struct {
	reg *registry.Registry
	options
}

func (c *core) header(side Side, sender transport.SenderID, m *transport.Message) (Header, bool, error) {
	h, err := c.layout.Read(m)
	if err != nil {
		c.reporter.Failed(side, h, sender, err)
		return h, false, err
	}
	if h.Tag == protocol.SystemRegular {
		return h, true, nil
	}
	if c.metrics != nil {
		c.metrics.SystemMessages.WithLabelValues(h.Tag.String()).Inc()
	}
	if c.system == nil {
		c.reporter.NoHandler(side, h, sender)
		return h, false, nil
	}
	if err := c.system.HandleSystem(sender, h.Tag, m); err != nil {
		c.reporter.Failed(side, h, sender, err)
		return h, false, err
	}
	return h, false, nil
}

// invoke runs the snapshot d. Misses have already been filtered out.
func (c *core) invoke(side Side, h Header, sender transport.SenderID, d handler.Descriptor, m *transport.Message) error {
	var err error
	if side == SideServer {
		err = d.InvokeServer(sender, m)
	} else {
		err = d.InvokeClient(m)
	}
	if err != nil {
		c.reporter.Failed(side, h, sender, err)
		return err
	}
	if c.metrics != nil {
		c.metrics.Dispatched.WithLabelValues(string(side)).Inc()
	}
	return nil
}

// Client dispatches for a single recipient. Lookups go to the active
// session group, the default group until SetGroup says otherwise.
type Client struct {
	core
	group atomic.Uint32
}

func NewClient(reg *registry.Registry, opts ...Option) *Client {
	return &Client{core: core{reg: reg, options: buildOptions(opts)}}
}

func (c *Client) SetGroup(g protocol.GroupID) { c.group.Store(uint32(g)) }
func (c *Client) Group() protocol.GroupID     { return protocol.GroupID(c.group.Load()) }
func (c *Client) Layout() Layout              { return c.layout }

// Dispatch decodes and delivers one inbound message. A missing handler is
// reported and swallowed; header or payload decode failures are returned.
// The message stays owned by the caller.
func (c *Client) Dispatch(m *transport.Message) error {
	h, regular, err := c.header(SideClient, transport.NilSender, m)
	if !regular {
		return err
	}
	d, err := c.reg.Client(c.Group(), h.Module, h.Message)
	if err != nil {
		if missed(err) {
			c.reporter.NoHandler(SideClient, h, transport.NilSender)
			return nil
		}
		c.reporter.Failed(SideClient, h, transport.NilSender, err)
		return err
	}
	return c.invoke(SideClient, h, transport.NilSender, d, m)
}

// Server dispatches messages from many connections. Module-scoped messages
// are looked up by (module, message), the rest by message alone.
type Server struct {
	core
}

func NewServer(reg *registry.Registry, opts ...Option) *Server {
	o := buildOptions(opts)
	if o.groups == nil {
		o.groups = func(transport.SenderID) protocol.GroupID { return protocol.DefaultGroup }
	}
	return &Server{core: core{reg: reg, options: o}}
}

func (s *Server) Layout() Layout { return s.layout }

func (s *Server) Dispatch(sender transport.SenderID, m *transport.Message) error {
	h, regular, err := s.header(SideServer, sender, m)
	if !regular {
		return err
	}
	g := s.groups(sender)
	var d handler.Descriptor
	if h.Scoped {
		d, err = s.reg.Server(g, h.Module, h.Message)
	} else {
		d, err = s.reg.ServerGlobal(g, h.Message)
	}
	if err != nil {
		if missed(err) {
			s.reporter.NoHandler(SideServer, h, sender)
			return nil
		}
		s.reporter.Failed(SideServer, h, sender, err)
		return err
	}
	return s.invoke(SideServer, h, sender, d, m)
}
