package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AccountKV is the part of the redis client AccountStore uses.
type AccountKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// AccountStore maps account names to numeric user IDs drawn from a shared
// counter.
//
//	<prefix>:uid              counter
//	<prefix>:account:<name>   string: uid
type AccountStore struct {
	kv     AccountKV
	prefix string
}

func NewAccountStore(kv AccountKV, prefix string) *AccountStore {
	if prefix == "" {
		prefix = "modnet"
	}
	return &AccountStore{kv: kv, prefix: prefix}
}

func (s *AccountStore) accountKey(name string) string { return s.prefix + ":account:" + name }

// NextUID draws a fresh user ID.
func (s *AccountStore) NextUID(ctx context.Context) (int64, error) {
	uid, err := s.kv.Incr(ctx, s.prefix+":uid").Result()
	if err != nil {
		return 0, fmt.Errorf("next uid: %w", err)
	}
	return uid, nil
}

// Lookup returns the user ID bound to account.
func (s *AccountStore) Lookup(ctx context.Context, account string) (int64, bool, error) {
	val, err := s.kv.Get(ctx, s.accountKey(account)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup account %s: %w", account, err)
	}
	uid, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse uid for %s: %w", account, err)
	}
	return uid, true, nil
}

// Resolve returns the user ID bound to account, binding a new one on first
// sight. created reports whether this call made the binding.
func (s *AccountStore) Resolve(ctx context.Context, account string) (uid int64, created bool, err error) {
	if account == "" {
		return 0, false, errors.New("empty account name")
	}
	if uid, ok, err := s.Lookup(ctx, account); err != nil || ok {
		return uid, false, err
	}
	uid, err = s.NextUID(ctx)
	if err != nil {
		return 0, false, err
	}
	won, err := s.kv.SetNX(ctx, s.accountKey(account), strconv.FormatInt(uid, 10), 0).Result()
	if err != nil {
		return 0, false, fmt.Errorf("bind account %s: %w", account, err)
	}
	if won {
		return uid, true, nil
	}
	// Another login bound the account first.
	uid, _, err = s.Lookup(ctx, account)
	return uid, false, err
}
