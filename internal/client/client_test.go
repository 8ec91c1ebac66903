package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modnet/internal/dispatch"
	"modnet/internal/identity"
	"modnet/internal/protocol"
	"modnet/internal/registry"
	"modnet/internal/service"
	"modnet/internal/transport"
)

type greet struct{ Name string }

func (g *greet) Read(m *transport.Message) error {
	v, err := m.ReadString()
	g.Name = v
	return err
}

func (g *greet) Write(m *transport.Message) error {
	m.WriteString(g.Name)
	return nil
}

type welcome struct{ Text string }

func (w *welcome) Read(m *transport.Message) error {
	v, err := m.ReadString()
	w.Text = v
	return err
}

func (w *welcome) Write(m *transport.Message) error {
	m.WriteString(w.Text)
	return nil
}

type home struct{ handlers []registry.Candidate }

func (*home) Name() string           { return registry.DefaultHomeModule }
func (*home) Dependencies() []string { return nil }

func (*home) Declare(d *registry.Declarer) error {
	if _, err := registry.DeclareMessage[greet](d, protocol.DefaultGroup, identity.ToServer); err != nil {
		return err
	}
	_, err := registry.DeclareMessage[welcome](d, protocol.DefaultGroup, identity.ToClient)
	return err
}

func (h *home) Handlers() []registry.Candidate { return h.handlers }

func newRegistry(t *testing.T, handlers ...registry.Candidate) *registry.Registry {
	t.Helper()
	reg := registry.New()
	_, err := reg.AddModule(&home{handlers: handlers})
	require.NoError(t, err)
	return reg
}

func startServer(t *testing.T, ctx context.Context) string {
	t.Helper()
	var srv *service.Server
	reg := newRegistry(t, registry.On(func(from transport.SenderID, g *greet) {
		_ = srv.Send(from, &welcome{Text: "hello " + g.Name})
	}))
	srv = service.NewServer(reg, nil, nil, service.Options{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ctx, ln) }()
	return ln.Addr().String()
}

func TestClientRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr := startServer(t, ctx)

	welcomes := make(chan string, 1)
	validated := make(chan dispatch.ValidationResult, 1)
	reg := newRegistry(t, registry.On(func(w *welcome) { welcomes <- w.Text }))
	c := New(reg, nil, nil, Options{
		Addr:        addr,
		Validate:    true,
		OnValidated: func(r dispatch.ValidationResult) { validated <- r },
	})

	assert.ErrorIs(t, c.Send(&greet{Name: "early"}), ErrNotConnected)

	go func() { _ = c.Run(ctx) }()
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	select {
	case r := <-validated:
		assert.True(t, r.OK())
	case <-ctx.Done():
		t.Fatal("no validation response")
	}

	require.NoError(t, c.Send(&greet{Name: "ada"}))
	select {
	case text := <-welcomes:
		assert.Equal(t, "hello ada", text)
	case <-ctx.Done():
		t.Fatal("no welcome")
	}

	assert.ErrorIs(t, c.Send(&welcome{}), protocol.ErrNotRoutable)
}

func TestClientReconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr := startServer(t, ctx)

	var attempts, connects atomic.Int32
	c := New(newRegistry(t), nil, nil, Options{
		Addr:              addr,
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
		Dial: func(ctx context.Context, addr string) (transport.Conn, error) {
			if attempts.Add(1) <= 2 {
				return nil, errors.New("refused")
			}
			return Dial(ctx, addr)
		},
		OnConnect: func() { connects.Add(1) },
	})

	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int32(1), connects.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, c.Connected())
}
