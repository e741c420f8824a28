package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps orders in process. It backs STORE_DRIVER=memory and the
// package tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	items  []LineItem
	nextID int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order)}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Insert(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrConflict, o.ID)
	}
	for _, existing := range s.orders {
		if existing.Number == o.Number {
			return fmt.Errorf("%w: duplicate order number %s", ErrConflict, o.Number)
		}
	}
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) InsertItems(_ context.Context, items []LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if _, ok := s.orders[it.OrderID]; !ok {
			return fmt.Errorf("item %s: unknown order %s", it.ProductID, it.OrderID)
		}
	}
	for _, it := range items {
		s.nextID++
		it.ID = s.nextID
		s.items = append(s.items, it)
	}
	return nil
}

func (s *MemoryStore) FindByNumber(_ context.Context, number string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []Order
	for _, o := range s.orders {
		if o.Number == number {
			found = append(found, o)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: order number %s is not unique", ErrConflict, number)
	}
}

func (s *MemoryStore) StatusByNumber(ctx context.Context, number string) (Status, error) {
	o, err := s.FindByNumber(ctx, number)
	if err != nil {
		return "", err
	}
	if o == nil {
		return "", ErrNotFound
	}
	return o.Status, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) Items(_ context.Context, orderID string) ([]LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LineItem
	for _, it := range s.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *MemoryStore) List(context.Context) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SearchByPhone(_ context.Context, fragment string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(fragment)
	var out []Order
	for _, o := range s.orders {
		if strings.Contains(strings.ToLower(o.Phone), needle) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, st Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = st
	o.UpdatedAt = at
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, p Patch, at time.Time) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Apply(&o)
	o.UpdatedAt = at
	s.orders[id] = o
	return &o, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	delete(s.orders, id)
	kept := s.items[:0]
	for _, it := range s.items {
		if it.OrderID != id {
			kept = append(kept, it)
		}
	}
	s.items = kept
	return nil
}
