package db

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modnet/internal/identity"
	"modnet/internal/protocol"
)

type memKV struct {
	strings map[string]string
	hashes  map[string]map[string]string
	counter int64
}

func newMemKV() *memKV {
	return &memKV{strings: map[string]string{}, hashes: map[string]map[string]string{}}
}

func (m *memKV) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (m *memKV) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	out := map[string]string{}
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (m *memKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.strings[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (m *memKV) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func sampleManifest() []identity.Entry {
	return []identity.Entry{
		{Name: "chat.Say", Identity: protocol.Identity{Module: 0, Group: 1, Message: 4}, Direction: identity.Both},
		{Name: "chat.Whisper", Identity: protocol.Identity{Module: 2, Group: 1, Message: 5}, Direction: identity.ToServer},
		{Name: "login.Hello", Identity: protocol.Identity{Module: 0, Group: 2, Message: 4}, Direction: identity.ToClient},
	}
}

func TestPublishAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	store := NewManifestStore(kv, "")

	hash, err := store.Publish(ctx, "netcore", sampleManifest())
	require.NoError(t, err)
	assert.Equal(t, identity.Hash(sampleManifest()), hash)

	cur, err := store.Current(ctx, "netcore")
	require.NoError(t, err)
	assert.Equal(t, hash, cur)

	got, err := store.Load(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, sampleManifest(), got)
	assert.Equal(t, hash, identity.Hash(got))
}

func TestMissingManifest(t *testing.T) {
	ctx := context.Background()
	store := NewManifestStore(newMemKV(), "test")

	_, err := store.Current(ctx, "netcore")
	assert.ErrorIs(t, err, ErrManifestNotFound)
	_, err = store.Load(ctx, 12345)
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestLoadRejectsCorruptEntries(t *testing.T) {
	kv := newMemKV()
	store := NewManifestStore(kv, "p")
	kv.hashes[store.manifestKey(1)] = map[string]string{"x": "1:2:3"}
	_, err := store.Load(context.Background(), 1)
	assert.Error(t, err)

	kv.hashes[store.manifestKey(2)] = map[string]string{"x": "1:999:3:1"}
	_, err = store.Load(context.Background(), 2)
	assert.Error(t, err)
}
