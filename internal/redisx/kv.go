package redisx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrContention = errors.New("redisx: too many concurrent writers")

// UpdateFunc receives the current value (ok=false when the key is missing)
// and returns the value to store. Returning nil leaves the key untouched.
type UpdateFunc func(cur []byte, ok bool) ([]byte, error)

// KV is the small key-value surface the mirror and caches need.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetNX reports whether the key was created.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// Update is an atomic read-modify-write of one key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

const maxUpdateRetries = 16

type RedisKV struct{ rdb *redis.Client }

func NewRedisKV(rdb *redis.Client) *RedisKV { return &RedisKV{rdb: rdb} }

func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := k.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (k *RedisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, key, val, ttl).Err()
}

func (k *RedisKV) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	return k.rdb.SetNX(ctx, key, val, ttl).Result()
}

func (k *RedisKV) Del(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, key).Err()
}

// Update uses WATCH/MULTI; a concurrent write to key aborts the transaction
// and fn runs again on the fresh value.
func (k *RedisKV) Update(ctx context.Context, key string, fn UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok, err = false, nil
		}
		if err != nil {
			return err
		}
		next, err := fn(cur, ok)
		if err != nil || next == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := k.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

// MemoryKV is the in-process KV used with MIRROR_DRIVER=memory and in tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	val     []byte
	expires time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memEntry), now: time.Now}
}

func (k *MemoryKV) load(key string) ([]byte, bool) {
	e, ok := k.data[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !k.now().Before(e.expires) {
		delete(k.data, key)
		return nil, false
	}
	return e.val, true
}

func (k *MemoryKV) store(key string, val []byte, ttl time.Duration) {
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = k.now().Add(ttl)
	}
	k.data[key] = e
}

func (k *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.load(key)
	return append([]byte(nil), v...), ok, nil
}

func (k *MemoryKV) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.store(key, val, ttl)
	return nil
}

func (k *MemoryKV) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.load(key); ok {
		return false, nil
	}
	k.store(key, val, ttl)
	return true, nil
}

func (k *MemoryKV) Del(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

func (k *MemoryKV) Update(_ context.Context, key string, fn UpdateFunc) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cur, ok := k.load(key)
	next, err := fn(append([]byte(nil), cur...), ok)
	if err != nil || next == nil {
		return err
	}
	k.store(key, next, 0)
	return nil
}
