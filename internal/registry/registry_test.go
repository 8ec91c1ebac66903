package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modnet/internal/groupindex"
	"modnet/internal/handler"
	"modnet/internal/identity"
	"modnet/internal/metrics"
	"modnet/internal/protocol"
	"modnet/internal/transport"
)

type chatGroup struct{}

type say struct{ Text string }

func (s *say) Read(m *transport.Message) error {
	v, err := m.ReadString()
	s.Text = v
	return err
}

func (s *say) Write(m *transport.Message) error {
	m.WriteString(s.Text)
	return nil
}

type kick struct{ Reason uint8 }

func (k *kick) Read(m *transport.Message) error {
	v, err := m.ReadUint8()
	k.Reason = v
	return err
}

func (k *kick) Write(m *transport.Message) error {
	m.WriteUint8(k.Reason)
	return nil
}

type undeclared struct{}

func (*undeclared) Read(*transport.Message) error  { return nil }
func (*undeclared) Write(*transport.Message) error { return nil }

type testModule struct {
	name     string
	deps     []string
	declare  func(d *Declarer) error
	handlers func() []Candidate
	scans    atomic.Int32
}

func (m *testModule) Name() string           { return m.name }
func (m *testModule) Dependencies() []string { return m.deps }

func (m *testModule) Declare(d *Declarer) error {
	if m.declare == nil {
		return nil
	}
	return m.declare(d)
}

func (m *testModule) Handlers() []Candidate {
	m.scans.Add(1)
	if m.handlers == nil {
		return nil
	}
	return m.handlers()
}

func rawClient() func(*transport.Message) { return func(*transport.Message) {} }

// homeModule declares chatGroup with say (both sides) and kick (client only).
func homeModule(handlers func() []Candidate) *testModule {
	return &testModule{
		name: DefaultHomeModule,
		declare: func(d *Declarer) error {
			g, err := DeclareGroup[chatGroup](d)
			if err != nil {
				return err
			}
			if _, err := DeclareMessage[say](d, g, identity.Both); err != nil {
				return err
			}
			_, err = DeclareMessage[kick](d, g, identity.ToClient)
			return err
		},
		handlers: handlers,
	}
}

func TestRebuildRegistersEveryShape(t *testing.T) {
	r := New()
	var clientSaid, serverSaid string
	_, err := r.AddModule(homeModule(func() []Candidate {
		return []Candidate{
			On(func(s *say) { clientSaid = s.Text }),
			On(func(_ transport.SenderID, s *say) { serverSaid = s.Text }),
			On(rawClient(), MessageID(10)),
			On(rawClient(), PayloadOf[kick](), ModuleID(0)).Named("kick-raw"),
		}
	}))
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	g, ok := GroupFor[chatGroup](r)
	require.True(t, ok)
	sayID, ok := IdentityOf[say](r)
	require.True(t, ok)
	assert.Equal(t, g, sayID.Group)
	assert.Equal(t, protocol.SystemReserved, sayID.Message)

	m := transport.NewMessage(transport.Reliable)
	m.WriteString("hello")
	d, err := r.Client(g, 0, sayID.Message)
	require.NoError(t, err)
	require.NoError(t, d.InvokeClient(m))
	assert.Equal(t, "hello", clientSaid)

	m.Rewind()
	d, err = r.ServerGlobal(g, sayID.Message)
	require.NoError(t, err)
	require.NoError(t, d.InvokeServer(transport.NewSenderID(), m))
	assert.Equal(t, "hello", serverSaid)

	_, err = r.Client(0, 0, 10)
	assert.NoError(t, err)
	kickID, _ := IdentityOf[kick](r)
	d, err = r.Client(g, 0, kickID.Message)
	require.NoError(t, err)
	assert.Equal(t, "kick-raw", d.Name)

	assert.Equal(t, uint64(1), r.Generation())
	assert.True(t, r.Valid())
	assert.NoError(t, r.LastError())
}

func TestLookupInitializesLazily(t *testing.T) {
	r := New()
	_, err := r.AddModule(homeModule(func() []Candidate {
		return []Candidate{On(rawClient(), MessageID(10))}
	}))
	require.NoError(t, err)
	assert.False(t, r.Initialized())

	_, err = r.Client(0, 0, 10)
	require.NoError(t, err)
	assert.True(t, r.Initialized())

	_, err = r.Client(0, 0, 11)
	assert.ErrorIs(t, err, protocol.ErrHandlerNotFound)
	_, err = r.Client(200, 0, 10)
	assert.ErrorIs(t, err, protocol.ErrUnknownGroup)
}

func TestRebuildScansHomeAndDependents(t *testing.T) {
	r := New()
	_, err := r.AddModule(homeModule(nil))
	require.NoError(t, err)

	dependent := &testModule{
		name: "chat",
		deps: []string{DefaultHomeModule},
		declare: func(d *Declarer) error {
			g, err := DeclareGroup[chatGroup](d)
			if err != nil {
				return err
			}
			_, err = DeclareScoped[undeclared](d, g, identity.ToServer)
			return err
		},
		handlers: func() []Candidate {
			return []Candidate{On(func(transport.SenderID, *undeclared) {})}
		},
	}
	stranger := &testModule{
		name: "stranger",
		handlers: func() []Candidate {
			return []Candidate{On(rawClient(), MessageID(20))}
		},
	}
	chatID, err := r.AddModule(dependent)
	require.NoError(t, err)
	_, err = r.AddModule(stranger)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	id, ok := IdentityOf[undeclared](r)
	require.True(t, ok)
	assert.Equal(t, chatID, id.Module)

	_, err = r.Server(id.Group, chatID, id.Message)
	assert.NoError(t, err)
	_, err = r.ServerGlobal(id.Group, id.Message)
	assert.ErrorIs(t, err, protocol.ErrHandlerNotFound)

	_, err = r.Client(0, 0, 20)
	assert.ErrorIs(t, err, protocol.ErrHandlerNotFound)
	assert.Equal(t, int32(0), stranger.scans.Load())
}

func TestDiscoveryErrors(t *testing.T) {
	cases := []struct {
		name string
		bad  Candidate
		want error
	}{
		{"bad signature", On(func(int) {}), protocol.ErrBadSignature},
		{"missing identity", On(rawClient()), protocol.ErrMissingIdentity},
		{"type without identity", On(func(*undeclared) {}), protocol.ErrNoIdentity},
		{"duplicate message", On(rawClient(), MessageID(10), MessageID(11)), protocol.ErrDuplicateTag},
		{"duplicate group type", On(rawClient(), MessageID(10), GroupOf[chatGroup](), GroupOf[chatGroup]()), protocol.ErrDuplicateTag},
		{"id and payload", On(rawClient(), MessageID(10), PayloadOf[say]()), protocol.ErrConflictingTag},
		{"group id and type", On(rawClient(), MessageID(10), GroupID(1), GroupOf[chatGroup]()), protocol.ErrConflictingTag},
		{"tag disagrees with handler", On(func(*say) {}, PayloadOf[kick]()), protocol.ErrConflictingTag},
		{"unknown group ref", On(rawClient(), MessageID(10), GroupOf[undeclared]()), protocol.ErrUnknownGroupRef},
		{"wrong side", On(func(transport.SenderID, *kick) {}), protocol.ErrSideMismatch},
		{"reserved id", On(rawClient(), MessageID(2)), protocol.ErrInvalidValue},
		{"module disagrees with payload", On(func(*say) {}, ModuleID(3)), protocol.ErrConflictingTag},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			_, err := r.AddModule(homeModule(func() []Candidate {
				return []Candidate{
					On(rawClient(), MessageID(30)),
					tc.bad,
					On(rawClient(), MessageID(31)),
				}
			}))
			require.NoError(t, err)

			err = r.Initialize()
			assert.ErrorIs(t, err, protocol.ErrDiscovery)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, r.Valid())
			assert.Equal(t, err, r.LastError())

			// stores before the bad candidate stay, later ones never happen
			_, err = r.Client(0, 0, 30)
			assert.NoError(t, err)
			_, err = r.Client(0, 0, 31)
			assert.ErrorIs(t, err, protocol.ErrHandlerNotFound)
		})
	}
}

func TestMissingHomeModule(t *testing.T) {
	r := New()
	_, err := r.AddModule(&testModule{name: "chat"})
	require.NoError(t, err)
	err = r.Initialize()
	assert.ErrorIs(t, err, protocol.ErrDiscovery)
}

func TestAddModuleErrors(t *testing.T) {
	r := New()
	_, err := r.AddModule(homeModule(nil))
	require.NoError(t, err)
	_, err = r.AddModule(homeModule(nil))
	assert.ErrorIs(t, err, protocol.ErrDuplicateModule)

	_, err = r.AddModule(&testModule{
		name:    "broken",
		declare: func(d *Declarer) error { return protocol.ErrInvalidValue },
	})
	assert.ErrorIs(t, err, protocol.ErrInvalidValue)
	_, ok := r.ModuleID("broken")
	assert.False(t, ok)
	assert.Equal(t, []string{DefaultHomeModule}, r.ModuleNames())
}

func TestLaterSetOverwrites(t *testing.T) {
	r := New()
	_, err := r.AddModule(homeModule(func() []Candidate {
		return []Candidate{
			On(rawClient(), MessageID(5)).Named("first"),
			On(rawClient(), MessageID(5)).Named("second"),
		}
	}))
	require.NoError(t, err)

	d, err := r.Client(0, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "second", d.Name)
}

func TestSettingsFrozenAfterInitialize(t *testing.T) {
	r := New()
	require.NoError(t, r.SetIndexerMode(groupindex.ModeRAM))
	require.NoError(t, r.SetTableMode(handler.ModeMap))
	require.NoError(t, r.SetRegionSize(64))
	assert.ErrorIs(t, r.SetRegionSize(3), protocol.ErrInvalidValue)
	assert.ErrorIs(t, r.SetHomeModule(""), protocol.ErrInvalidValue)
	require.NoError(t, r.SetHomeModule("core"))

	_, err := r.AddModule(&testModule{name: "core"})
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	before := r.Settings()
	assert.ErrorIs(t, r.SetIndexerMode(groupindex.ModeCPU), protocol.ErrInvalidState)
	assert.ErrorIs(t, r.SetTableMode(handler.ModeRegion), protocol.ErrInvalidState)
	assert.ErrorIs(t, r.SetRegionSize(128), protocol.ErrInvalidState)
	assert.ErrorIs(t, r.SetHomeModule("other"), protocol.ErrInvalidState)
	assert.Equal(t, before, r.Settings())
	assert.Equal(t, groupindex.ModeRAM, r.Space().IndexerMode())

	tbl, err := r.ClientTable(0)
	require.NoError(t, err)
	assert.Zero(t, tbl.Len())
}

func TestInvalidateWithConcurrentLookups(t *testing.T) {
	home := homeModule(func() []Candidate {
		cs := make([]Candidate, 0, 200)
		for i := 0; i < 200; i++ {
			cs = append(cs, On(rawClient(), MessageID(protocol.MessageID(100+i))))
		}
		return cs
	})
	r := New()
	_, err := r.AddModule(home)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	for round := 0; round < 20; round++ {
		r.Invalidate()
		var wg sync.WaitGroup
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					_, err := r.Client(0, 0, protocol.MessageID(100+i))
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()
	}
	assert.Equal(t, int32(21), home.scans.Load())
	assert.Equal(t, uint64(21), r.Generation())
}

func TestDescriptorSnapshotSurvivesReload(t *testing.T) {
	version := "old"
	var ran []string
	r := New()
	_, err := r.AddModule(homeModule(func() []Candidate {
		v := version
		return []Candidate{On(func(*transport.Message) { ran = append(ran, v) }, MessageID(10))}
	}))
	require.NoError(t, err)

	stale, err := r.Client(0, 0, 10)
	require.NoError(t, err)

	version = "new"
	require.NoError(t, r.Reload())
	fresh, err := r.Client(0, 0, 10)
	require.NoError(t, err)

	require.NoError(t, stale.InvokeClient(transport.NewMessage(transport.Reliable)))
	require.NoError(t, fresh.InvokeClient(transport.NewMessage(transport.Reliable)))
	assert.Equal(t, []string{"old", "new"}, ran)
}

func TestModulesAddedLater(t *testing.T) {
	r := New()
	_, err := r.AddModule(homeModule(nil))
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	type lateGroup struct{}
	late := &testModule{
		name: "late",
		deps: []string{DefaultHomeModule},
		declare: func(d *Declarer) error {
			_, err := DeclareGroup[lateGroup](d)
			return err
		},
		handlers: func() []Candidate {
			return []Candidate{On(rawClient(), GroupOf[lateGroup](), MessageID(40))}
		},
	}
	_, err = r.AddModule(late)
	require.NoError(t, err)
	assert.False(t, r.Valid())

	g, ok := GroupFor[lateGroup](r)
	require.True(t, ok)
	_, err = r.Client(g, 0, 40)
	assert.NoError(t, err)
}

func TestRebuildMetrics(t *testing.T) {
	m := metrics.New()
	r := New(WithMetrics(m))
	_, err := r.AddModule(homeModule(func() []Candidate {
		return []Candidate{On(rawClient())}
	}))
	require.NoError(t, err)

	assert.Error(t, r.Initialize())
	r.Invalidate()
	assert.Error(t, r.Initialize())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rebuilds.WithLabelValues("error")))
}

func TestScopedPayloadRejectsOtherModule(t *testing.T) {
	r := New()
	_, err := r.AddModule(homeModule(nil))
	require.NoError(t, err)
	ext := &testModule{
		name: "ext",
		deps: []string{DefaultHomeModule},
		declare: func(d *Declarer) error {
			_, err := DeclareScoped[undeclared](d, protocol.DefaultGroup, identity.ToServer)
			return err
		},
		handlers: func() []Candidate {
			return []Candidate{On(func(transport.SenderID, *undeclared) {}, ModuleID(0))}
		},
	}
	_, err = r.AddModule(ext)
	require.NoError(t, err)

	err = r.Initialize()
	assert.ErrorIs(t, err, protocol.ErrDiscovery)
	assert.ErrorIs(t, err, protocol.ErrConflictingTag)

	id, ok := IdentityOf[undeclared](r)
	require.True(t, ok)
	_, err = r.ServerGlobal(id.Group, id.Message)
	assert.ErrorIs(t, err, protocol.ErrHandlerNotFound)
}

func TestTableAccessorsReturnCopies(t *testing.T) {
	r := New()
	_, err := r.AddModule(homeModule(func() []Candidate {
		return []Candidate{
			On(rawClient(), MessageID(10)),
			On(func(transport.SenderID, *transport.Message) {}, MessageID(11)),
		}
	}))
	require.NoError(t, err)

	client, err := r.ClientTable(0)
	require.NoError(t, err)
	assert.Equal(t, 1, client.Len())
	assert.True(t, client.Remove(0, 10))

	server, err := r.ServerTable(0)
	require.NoError(t, err)
	assert.True(t, server.Has(0, 11))

	_, err = r.Client(0, 0, 10)
	assert.NoError(t, err, "removing from the copy leaves the registry alone")

	_, err = r.ClientTable(200)
	assert.ErrorIs(t, err, protocol.ErrUnknownGroup)
}

func TestIndexerModeSwitchKeepsConcurrentDeclarations(t *testing.T) {
	r := New()
	declare := []func(d *Declarer) error{
		func(d *Declarer) error { _, err := DeclareMessage[say](d, protocol.DefaultGroup, identity.Both); return err },
		func(d *Declarer) error { _, err := DeclareMessage[kick](d, protocol.DefaultGroup, identity.ToClient); return err },
		func(d *Declarer) error {
			_, err := DeclareMessage[undeclared](d, protocol.DefaultGroup, identity.ToServer)
			return err
		},
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i, fn := range declare {
			_, err := r.AddModule(&testModule{name: fmt.Sprintf("m%d", i), declare: fn})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			mode := groupindex.ModeRAM
			if i%2 == 1 {
				mode = groupindex.ModeCPU
			}
			assert.NoError(t, r.SetIndexerMode(mode))
		}
	}()
	wg.Wait()

	idx, ok := r.Space().Indexer(protocol.DefaultGroup)
	require.True(t, ok)
	for _, e := range r.Manifest() {
		assert.True(t, idx.HasAny(e.Identity.Message), e.Name)
	}
	assert.Len(t, r.Manifest(), 3)
}
