package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Mirror stores every order snapshot in one JSON array under KeyMirror, the
// same layout the storefront keeps in the browser. Lookups scan linearly.
type Mirror struct {
	kv  KV
	key string
}

var _ orders.Mirror = (*Mirror)(nil)

func NewMirror(kv KV) *Mirror { return &Mirror{kv: kv, key: KeyMirror} }

func decodeEntries(b []byte) ([]orders.MirrorEntry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []orders.MirrorEntry
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode mirror: %w", err)
	}
	return out, nil
}

func (m *Mirror) All(ctx context.Context) ([]orders.MirrorEntry, error) {
	b, _, err := m.kv.Get(ctx, m.key)
	if err != nil {
		return nil, err
	}
	return decodeEntries(b)
}

func (m *Mirror) Find(ctx context.Context, number string) (*orders.MirrorEntry, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Number == number {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Put upserts by order number. An undecodable blob is replaced: the mirror
// is a cache and the store can always refill it.
func (m *Mirror) Put(ctx context.Context, e orders.MirrorEntry) error {
	return m.kv.Update(ctx, m.key, func(cur []byte, _ bool) ([]byte, error) {
		all, err := decodeEntries(cur)
		if err != nil {
			all = nil
		}
		replaced := false
		for i := range all {
			if all[i].Number == e.Number {
				all[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			all = append(all, e)
		}
		return json.Marshal(all)
	})
}

func (m *Mirror) SetStatus(ctx context.Context, number string, s orders.Status) (bool, error) {
	found := false
	err := m.kv.Update(ctx, m.key, func(cur []byte, ok bool) ([]byte, error) {
		found = false
		if !ok {
			return nil, nil
		}
		all, err := decodeEntries(cur)
		if err != nil {
			return nil, err
		}
		for i := range all {
			if all[i].Number == number {
				all[i].Status = s
				found = true
				return json.Marshal(all)
			}
		}
		return nil, nil
	})
	return found, err
}

func (m *Mirror) Remove(ctx context.Context, number string) (bool, error) {
	removed := false
	err := m.kv.Update(ctx, m.key, func(cur []byte, ok bool) ([]byte, error) {
		removed = false
		if !ok {
			return nil, nil
		}
		all, err := decodeEntries(cur)
		if err != nil {
			return nil, err
		}
		kept := all[:0]
		for _, e := range all {
			if e.Number == number {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if !removed {
			return nil, nil
		}
		return json.Marshal(kept)
	})
	return removed, err
}
