package login

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"modnet/internal/dispatch"
	"modnet/internal/identity"
	"modnet/internal/modules/core"
	"modnet/internal/payload"
	"modnet/internal/registry"
	"modnet/internal/service"
	"modnet/internal/transport"
)

type fakeServer struct {
	sessions *service.SessionManager
	replies  []*Result
}

func (f *fakeServer) Send(_ transport.SenderID, p payload.Payload) error {
	f.replies = append(f.replies, p.(*Result))
	return nil
}

func (f *fakeServer) Sessions() *service.SessionManager { return f.sessions }

type uids struct {
	next int64
	err  error
}

func (u *uids) Resolve(context.Context, string) (int64, bool, error) {
	if u.err != nil {
		return 0, false, u.err
	}
	u.next++
	return u.next + 100, true, nil
}

func setup(t *testing.T, opts Options) (*Module, *dispatch.Server, *registry.Registry, *fakeServer) {
	t.Helper()
	reg := registry.New()
	_, err := reg.AddModule(core.New(nil))
	require.NoError(t, err)
	mod := New(nil, opts)
	_, err = reg.AddModule(mod)
	require.NoError(t, err)
	fs := &fakeServer{sessions: service.NewSessionManager()}
	mod.Bind(fs)
	return mod, dispatch.NewServer(reg), reg, fs
}

func login(t *testing.T, reg *registry.Registry, srv *dispatch.Server, from transport.SenderID, account string) {
	t.Helper()
	m, err := dispatch.Encode(reg, srv.Layout(), identity.ToServer, transport.Reliable, NewRequest(account))
	require.NoError(t, err)
	require.NoError(t, srv.Dispatch(from, m))
}

func TestLoginSetsSessionAttributes(t *testing.T) {
	_, srv, reg, fs := setup(t, Options{UIDs: &uids{}})
	sess := &service.Session{ID: transport.NewSenderID()}
	fs.sessions.Add(sess)

	login(t, reg, srv, sess.ID, "alice")
	require.Len(t, fs.replies, 1)
	assert.Equal(t, int64(101), fs.replies[0].UID())

	account, _ := sess.Get(AttrAccount)
	uid, _ := sess.Get(AttrUID)
	assert.Equal(t, "alice", account)
	assert.Equal(t, "101", uid)
}

func TestLoginLocalUIDsAreStable(t *testing.T) {
	_, srv, reg, fs := setup(t, Options{})
	from := transport.NewSenderID()

	login(t, reg, srv, from, "alice")
	login(t, reg, srv, from, "bob")
	login(t, reg, srv, from, "alice")
	require.Len(t, fs.replies, 3)
	assert.Equal(t, int64(1), fs.replies[0].UID())
	assert.Equal(t, int64(2), fs.replies[1].UID())
	assert.Equal(t, int64(1), fs.replies[2].UID())
}

func TestLoginRefusals(t *testing.T) {
	mod, srv, reg, fs := setup(t, Options{RateLimit: 1, RateWindow: time.Hour})
	from := transport.NewSenderID()

	login(t, reg, srv, from, "")
	login(t, reg, srv, from, "alice")
	login(t, reg, srv, from, "alice")
	require.Len(t, fs.replies, 3)
	assert.Zero(t, fs.replies[0].UID())
	assert.NotZero(t, fs.replies[1].UID())
	assert.Zero(t, fs.replies[2].UID(), "second attempt is over the limit")

	mod.Forget(from)
	login(t, reg, srv, from, "alice")
	require.Len(t, fs.replies, 4)
	assert.NotZero(t, fs.replies[3].UID())
}

func TestLoginStoreFailure(t *testing.T) {
	_, srv, reg, fs := setup(t, Options{UIDs: &uids{err: errors.New("redis down")}})
	login(t, reg, srv, transport.NewSenderID(), "alice")
	require.Len(t, fs.replies, 1)
	assert.Zero(t, fs.replies[0].UID())
}

func TestResultReachesClientHook(t *testing.T) {
	mod, _, reg, _ := setup(t, Options{})
	var got int64
	mod.OnResult = func(uid int64) { got = uid }

	res := &Result{}
	res.Msg = wrapperspb.Int64(7)
	cli := dispatch.NewClient(reg)
	m, err := dispatch.Encode(reg, cli.Layout(), identity.ToClient, transport.Reliable, res)
	require.NoError(t, err)
	require.NoError(t, cli.Dispatch(m))
	assert.Equal(t, int64(7), got)
}
