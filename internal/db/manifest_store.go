package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"modnet/internal/identity"
	"modnet/internal/protocol"
)

var ErrManifestNotFound = errors.New("manifest not found")

// KV is the part of the redis client the store uses.
type KV interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// ManifestStore publishes identity manifests so peers built from different
// binaries can confirm they agree on every identity.
//
//	<prefix>:<hash>           hash: type name -> "module:group:message:direction"
//	<prefix>:current:<home>   string: hash of the latest manifest for a home module
type ManifestStore struct {
	kv     KV
	prefix string
}

func NewManifestStore(kv KV, prefix string) *ManifestStore {
	if prefix == "" {
		prefix = "modnet:manifest"
	}
	return &ManifestStore{kv: kv, prefix: prefix}
}

func (s *ManifestStore) manifestKey(hash uint64) string {
	return s.prefix + ":" + strconv.FormatUint(hash, 16)
}

func (s *ManifestStore) currentKey(home string) string {
	return s.prefix + ":current:" + home
}

// Publish stores entries under their hash and marks them current for home.
func (s *ManifestStore) Publish(ctx context.Context, home string, entries []identity.Entry) (uint64, error) {
	hash := identity.Hash(entries)
	if len(entries) > 0 {
		fields := make([]any, 0, len(entries)*2)
		for _, e := range entries {
			fields = append(fields, e.Name, encodeEntry(e))
		}
		if err := s.kv.HSet(ctx, s.manifestKey(hash), fields...).Err(); err != nil {
			return 0, fmt.Errorf("publish manifest: %w", err)
		}
	}
	if err := s.kv.Set(ctx, s.currentKey(home), strconv.FormatUint(hash, 16), 0).Err(); err != nil {
		return 0, fmt.Errorf("publish manifest pointer: %w", err)
	}
	return hash, nil
}

// Current returns the hash last published for home.
func (s *ManifestStore) Current(ctx context.Context, home string) (uint64, error) {
	v, err := s.kv.Get(ctx, s.currentKey(home)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrManifestNotFound, home)
	}
	if err != nil {
		return 0, err
	}
	hash, err := strconv.ParseUint(v, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad manifest pointer %q: %w", v, err)
	}
	return hash, nil
}

// Load returns the manifest stored under hash, in manifest order.
func (s *ManifestStore) Load(ctx context.Context, hash uint64) ([]identity.Entry, error) {
	fields, err := s.kv.HGetAll(ctx, s.manifestKey(hash)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %x", ErrManifestNotFound, hash)
	}
	out := make([]identity.Entry, 0, len(fields))
	for name, v := range fields {
		e, err := decodeEntry(name, v)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Identity, out[j].Identity
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Message < b.Message
	})
	return out, nil
}

func encodeEntry(e identity.Entry) string {
	return fmt.Sprintf("%d:%d:%d:%d", e.Identity.Module, e.Identity.Group, e.Identity.Message, e.Direction)
}

func decodeEntry(name, v string) (identity.Entry, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 4 {
		return identity.Entry{}, fmt.Errorf("bad manifest entry %s=%q", name, v)
	}
	var nums [4]uint64
	bits := [4]int{16, 8, 16, 8}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, bits[i])
		if err != nil {
			return identity.Entry{}, fmt.Errorf("bad manifest entry %s=%q: %w", name, v, err)
		}
		nums[i] = n
	}
	return identity.Entry{
		Name: name,
		Identity: protocol.Identity{
			Module:  protocol.ModuleID(nums[0]),
			Group:   protocol.GroupID(nums[1]),
			Message: protocol.MessageID(nums[2]),
		},
		Direction: identity.Direction(nums[3]),
	}, nil
}
