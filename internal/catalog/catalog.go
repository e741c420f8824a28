package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("product not found")
	ErrInvalid  = errors.New("invalid product")
)

type Product struct {
	ID            string          `json:"id" validate:"required,numeric"`
	Name          string          `json:"col_nombre" validate:"required"`
	Category      *string         `json:"col_tipo"`
	Image         string          `json:"col_imagen"`
	Description   *string         `json:"col_descripcion"`
	PurchasePrice decimal.Decimal `json:"col_precio_compra"`
	DoorPrice     decimal.Decimal `json:"col_precio_puerta"`
	DeliveryPrice decimal.Decimal `json:"col_precio_domicilio"`
	Stock         int             `json:"col_stock" validate:"gte=0"`
	Status        string          `json:"col_estado"`
	Supplier      *string         `json:"col_proveedor"`
	Coupon        *string         `json:"col_cupon_descuento"`
	ExpiresAt     *time.Time      `json:"col_fecha_vencimiento"`
}

type Store interface {
	List(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	// Upsert reports whether a new row was created.
	Upsert(ctx context.Context, p Product) (bool, error)
	Delete(ctx context.Context, id string) error
	Categories(ctx context.Context) ([]string, error)
}

// Service validates product writes before they reach the store.
type Service struct {
	store    Store
	validate *validator.Validate
}

func NewService(s Store) *Service {
	return &Service{store: s, validate: validator.New()}
}

func (s *Service) List(ctx context.Context) ([]Product, error) { return s.store.List(ctx) }

func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	return s.store.Get(ctx, strings.TrimSpace(id))
}

func (s *Service) Save(ctx context.Context, p Product) (bool, error) {
	p.ID = strings.TrimSpace(p.ID)
	if err := s.validate.Struct(p); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, price := range []decimal.Decimal{p.PurchasePrice, p.DoorPrice, p.DeliveryPrice} {
		if price.IsNegative() {
			return false, fmt.Errorf("%w: negative price", ErrInvalid)
		}
	}
	if p.Status == "" {
		p.Status = "activo"
	}
	return s.store.Upsert(ctx, p)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, strings.TrimSpace(id))
}

// Categories returns the distinct non-null col_tipo values, sorted.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.store.Categories(ctx)
}

type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{products: map[string]Product{}} }

func (m *MemoryStore) List(context.Context) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) Upsert(_ context.Context, p Product) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.products[p.ID]
	m.products[p.ID] = p
	return !existed, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *MemoryStore) Categories(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range m.products {
		if p.Category != nil && !seen[*p.Category] {
			seen[*p.Category] = true
			out = append(out, *p.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}
