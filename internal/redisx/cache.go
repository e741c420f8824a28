package redisx

import (
	"context"
	"fmt"
	"time"
)

// Idempotency remembers checkout responses per client supplied key.
type Idempotency struct {
	kv  KV
	ttl time.Duration
}

func NewIdempotency(kv KV) *Idempotency { return &Idempotency{kv: kv, ttl: TTLIdempotency} }

func (i *Idempotency) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	return i.kv.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key))
}

// Remember keeps the first response stored for key; later calls are no-ops.
func (i *Idempotency) Remember(ctx context.Context, key string, body []byte) error {
	_, err := i.kv.SetNX(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), body, i.ttl)
	return err
}

// StatusCache keeps the last status read from the store per order number.
// It is consulted only when the store cannot be reached.
type StatusCache struct {
	kv  KV
	ttl time.Duration
}

func NewStatusCache(kv KV) *StatusCache { return &StatusCache{kv: kv, ttl: TTLStatusCache} }

func (c *StatusCache) Get(ctx context.Context, number string) (string, bool, error) {
	b, ok, err := c.kv.Get(ctx, fmt.Sprintf(KeyOrderStatus, number))
	return string(b), ok, err
}

func (c *StatusCache) Set(ctx context.Context, number, status string) error {
	return c.kv.Set(ctx, fmt.Sprintf(KeyOrderStatus, number), []byte(status), c.ttl)
}

func (c *StatusCache) Invalidate(ctx context.Context, number string) error {
	return c.kv.Del(ctx, fmt.Sprintf(KeyOrderStatus, number))
}

// Dedup marks processed event ids per consuming service.
type Dedup struct {
	kv      KV
	service string
}

func NewDedup(kv KV, service string) *Dedup { return &Dedup{kv: kv, service: service} }

// FirstSeen claims id and reports whether this call was the first.
func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.kv.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), []byte("1"), TTLDedup)
}

// Forget releases id so a failed delivery can be processed again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.kv.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id))
}
