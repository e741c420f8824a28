package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type memMirror struct {
	mu      sync.Mutex
	entries map[string]MirrorEntry
	failPut bool
}

func newMemMirror() *memMirror { return &memMirror{entries: map[string]MirrorEntry{}} }

func (m *memMirror) Find(_ context.Context, number string) (*MirrorEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[number]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memMirror) Put(_ context.Context, e MirrorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("quota exceeded")
	}
	m.entries[e.Number] = e
	return nil
}

func (m *memMirror) SetStatus(_ context.Context, number string, s Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[number]
	if !ok {
		return false, nil
	}
	e.Status = s
	m.entries[number] = e
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	envs   []Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.envs = append(p.envs, env)
	return nil
}

// countingStore records every mutating call on top of a MemoryStore.
type countingStore struct {
	*MemoryStore
	pingErr    error
	itemsErr   error
	mutations  int
	statusRead Status // forces StatusByNumber to report this value when set
}

func (s *countingStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.MemoryStore.Ping(ctx)
}

func (s *countingStore) Insert(ctx context.Context, o Order) error {
	s.mutations++
	return s.MemoryStore.Insert(ctx, o)
}

func (s *countingStore) InsertItems(ctx context.Context, items []LineItem) error {
	if s.itemsErr != nil {
		return s.itemsErr
	}
	s.mutations++
	return s.MemoryStore.InsertItems(ctx, items)
}

func (s *countingStore) UpdateStatus(ctx context.Context, id string, st Status, at time.Time) error {
	s.mutations++
	return s.MemoryStore.UpdateStatus(ctx, id, st, at)
}

func (s *countingStore) StatusByNumber(ctx context.Context, number string) (Status, error) {
	if s.statusRead != "" {
		return s.statusRead, nil
	}
	return s.MemoryStore.StatusByNumber(ctx, number)
}

type fixture struct {
	store   *countingStore
	mirror  *memMirror
	events  *recordingPublisher
	metrics *Metrics
	clock   time.Time
	m       *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   &countingStore{MemoryStore: NewMemoryStore()},
		mirror:  newMemMirror(),
		events:  &recordingPublisher{},
		metrics: NewMetrics(prometheus.NewRegistry()),
		clock:   fixedNow,
	}
	base := []Option{
		WithMirror(f.mirror),
		WithPublisher(f.events, "test"),
		WithMetrics(f.metrics),
		WithIDGenerator(NewSeededIDGenerator(7)),
		WithClock(func() time.Time { return f.clock }),
	}
	f.m = NewManager(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) checkout(t *testing.T) *Created {
	t.Helper()
	created, err := f.m.CreateOrder(context.Background(),
		Customer{Name: "Ana", Phone: "555"},
		[]CartItem{{Product: CartProduct{ID: "p1", Price: decimal.NewFromInt(10), Image: "p1.png"}, Quantity: 2}},
		decimal.NewFromInt(20))
	require.NoError(t, err)
	return created
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	created := f.checkout(t)
	o := created.Order

	assert.Regexp(t, `^ORD-\d+-\d{1,3}$`, o.Number)
	assert.Regexp(t, `^pid_\d+_[0-9a-z]{9}$`, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, 2, o.ProductCount)
	assert.Equal(t, DefaultEmail, o.Email)
	assert.Equal(t, DefaultShipping, o.ShippingMethod)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(20)))
	require.NotNil(t, o.EstimatedDelivery)
	assert.Equal(t, fixedNow.Add(48*time.Hour), *o.EstimatedDelivery)
	assert.Equal(t, fixedNow, o.CreatedAt)
	assert.Equal(t, fixedNow, o.UpdatedAt)

	var cart []CartItem
	require.NoError(t, json.Unmarshal([]byte(o.Items), &cart))
	require.Len(t, cart, 1)
	assert.Equal(t, ProductID("p1"), cart[0].Product.ID)
	var images []ImageRef
	require.NoError(t, json.Unmarshal([]byte(o.ProductImages), &images))
	assert.Equal(t, []ImageRef{{ID: "p1", Image: "p1.png"}}, images)

	items, err := f.m.Items(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Subtotal.Equal(decimal.NewFromInt(20)))
	assert.True(t, items[0].Total.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, StatusPending, items[0].Status)

	e, _ := f.mirror.Find(context.Background(), o.Number)
	require.NotNil(t, e)
	assert.Equal(t, "Ana", e.Customer.Name)
	assert.Equal(t, StatusPending, e.Status)

	require.Len(t, f.events.topics, 1)
	assert.Equal(t, TopicOrderCreated, f.events.topics[0])
	assert.Equal(t, EventOrderCreated, f.events.envs[0].EventType)
	assert.Equal(t, o.Number, f.events.envs[0].CorrelationID)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.created), 0)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := []CartItem{{Product: CartProduct{ID: "p1", Price: decimal.NewFromInt(1)}, Quantity: 1}}

	cases := map[string]struct {
		c     Customer
		cart  []CartItem
		total decimal.Decimal
	}{
		"missing phone":  {Customer{Name: "Ana"}, cart, decimal.NewFromInt(1)},
		"blank name":     {Customer{Name: "  ", Phone: "1"}, cart, decimal.NewFromInt(1)},
		"bad email":      {Customer{Name: "Ana", Phone: "1", Email: "nope"}, cart, decimal.NewFromInt(1)},
		"empty cart":     {Customer{Name: "Ana", Phone: "1"}, nil, decimal.Zero},
		"zero quantity":  {Customer{Name: "Ana", Phone: "1"}, []CartItem{{Product: CartProduct{ID: "p1"}, Quantity: 0}}, decimal.Zero},
		"missing id":     {Customer{Name: "Ana", Phone: "1"}, []CartItem{{Quantity: 1}}, decimal.Zero},
		"negative total": {Customer{Name: "Ana", Phone: "1"}, cart, decimal.NewFromInt(-1)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.m.CreateOrder(ctx, tc.c, tc.cart, tc.total)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Zero(t, f.store.mutations)
}

func TestCreateOrderItemsFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.store.itemsErr = errors.New("fk violation")

	_, err := f.m.CreateOrder(context.Background(),
		Customer{Name: "Ana", Phone: "555"},
		[]CartItem{{Product: CartProduct{ID: "p1", Price: decimal.NewFromInt(10)}, Quantity: 1}},
		decimal.NewFromInt(10))
	require.Error(t, err)

	all, err := f.m.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1, "order row is not compensated")
	assert.Empty(t, f.events.topics)
	assert.Empty(t, f.mirror.entries)
}

func TestCreateOrderMirrorFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.mirror.failPut = true
	created := f.checkout(t)
	assert.NotEmpty(t, created.Order.Number)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.mirrorErrs), 0)
}

func TestSetStatusExistingOrder(t *testing.T) {
	f := newFixture(t)
	before := f.checkout(t).Order
	f.clock = fixedNow.Add(time.Hour)

	change, err := f.m.SetStatus(context.Background(), before.Number, StatusEnRoute)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, change.From)
	assert.Equal(t, StatusEnRoute, change.To)
	assert.False(t, change.Restored)
	assert.True(t, change.Verified)

	after, err := f.m.Get(context.Background(), before.ID)
	require.NoError(t, err)
	want := before
	want.Status = StatusEnRoute
	want.UpdatedAt = fixedNow.Add(time.Hour)
	assert.Equal(t, want, *after, "only status and updated-at change")

	e, _ := f.mirror.Find(context.Background(), before.Number)
	assert.Equal(t, StatusEnRoute, e.Status)
	assert.Equal(t, TopicOrderStatusChanged, f.events.topics[len(f.events.topics)-1])
}

func TestSetStatusIsIdempotent(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t).Order
	ctx := context.Background()

	for range 2 {
		_, err := f.m.SetStatus(ctx, o.Number, StatusCompleted)
		require.NoError(t, err)
	}
	all, err := f.m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusCompleted, all[0].Status)
}

func TestSetStatusAnyToAnyByDefault(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t).Order
	ctx := context.Background()
	for _, s := range []Status{StatusCancelled, StatusPending, StatusCompleted, StatusEnRoute} {
		_, err := f.m.SetStatus(ctx, o.Number, s)
		require.NoError(t, err, s)
	}
}

func TestInvalidStatusMutatesNothing(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t).Order
	f.store.mutations = 0
	ctx := context.Background()

	for _, bad := range []Status{"", "shipped", "PENDING", "en route"} {
		_, err := f.m.SetStatus(ctx, o.Number, bad)
		assert.ErrorIs(t, err, ErrInvalidStatus)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = f.m.SetStatusOnly(ctx, o.Number, bad)
		assert.ErrorIs(t, err, ErrInvalidStatus)
	}
	assert.Zero(t, f.store.mutations)
}

func TestSetStatusConnectionError(t *testing.T) {
	f := newFixture(t)
	f.store.pingErr = errors.New("dial tcp: refused")
	_, err := f.m.SetStatus(context.Background(), "ORD-1", StatusCompleted)
	assert.ErrorIs(t, err, ErrConnection)
	_, err = f.m.SetStatusOnly(context.Background(), "ORD-1", StatusCompleted)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestSetStatusRestoresFromMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := fixedNow.Add(-24 * time.Hour)
	require.NoError(t, f.mirror.Put(ctx, MirrorEntry{
		Number:   "ORD-X",
		Status:   StatusPending,
		Customer: Customer{Name: "Luis", Phone: "3001234567"},
		Products: []CartItem{{Product: CartProduct{ID: "7", Price: decimal.NewFromInt(5)}, Quantity: 3}},
		Total:    decimal.NewFromInt(15),
		Date:     &placed,
	}))

	change, err := f.m.SetStatus(ctx, "ORD-X", StatusCompleted)
	require.NoError(t, err)
	assert.True(t, change.Restored)
	assert.Equal(t, StatusPending, change.From)

	o, err := f.store.FindByNumber(ctx, "ORD-X")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, "Luis", o.CustomerName)
	assert.Equal(t, "3001234567", o.Phone)
	assert.Equal(t, restoredEmail, o.Email)
	assert.Equal(t, restoredAddress, o.Address)
	assert.Equal(t, restoredPayment, o.PaymentMethod)
	assert.Equal(t, 3, o.ProductCount)
	assert.Equal(t, placed, o.CreatedAt)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(15)))

	e, _ := f.mirror.Find(ctx, "ORD-X")
	assert.Equal(t, StatusCompleted, e.Status)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.restored), 0)
}

func TestSetStatusNotFoundAnywhere(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.SetStatus(context.Background(), "ORD-404", StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.store.mutations)
}

func TestSetStatusOnlyNeverInserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mirror.Put(ctx, MirrorEntry{Number: "ORD-X", Customer: Customer{Name: "Luis"}}))

	_, err := f.m.SetStatusOnly(ctx, "ORD-X", StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.store.mutations)
	all, _ := f.m.List(ctx)
	assert.Empty(t, all)
}

func TestSetStatusOnlyExisting(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t).Order
	change, err := f.m.SetStatusOnly(context.Background(), o.Number, StatusCancelled)
	require.NoError(t, err)
	assert.True(t, change.Verified)

	s, err := f.m.GetStatus(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, s)
}

func TestVerifyMismatch(t *testing.T) {
	t.Run("logged by default", func(t *testing.T) {
		f := newFixture(t)
		o := f.checkout(t).Order
		f.store.statusRead = StatusPending

		change, err := f.m.SetStatus(context.Background(), o.Number, StatusCompleted)
		require.NoError(t, err)
		assert.False(t, change.Verified)
		assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.mismatches), 0)
	})
	t.Run("conflict when strict", func(t *testing.T) {
		f := newFixture(t, WithStrictVerify(true))
		o := f.checkout(t).Order
		f.store.statusRead = StatusPending

		_, err := f.m.SetStatus(context.Background(), o.Number, StatusCompleted)
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestStrictPolicy(t *testing.T) {
	f := newFixture(t, WithPolicy(Strict))
	o := f.checkout(t).Order
	ctx := context.Background()

	_, err := f.m.SetStatus(ctx, o.Number, StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.m.SetStatus(ctx, o.Number, StatusEnRoute)
	require.NoError(t, err)
	_, err = f.m.SetStatus(ctx, o.Number, StatusCompleted)
	require.NoError(t, err)
	_, err = f.m.SetStatus(ctx, o.Number, StatusCompleted)
	require.NoError(t, err, "same status is always allowed")
	_, err = f.m.SetStatusOnly(ctx, o.Number, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentSetStatusSameNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mirror.Put(ctx, MirrorEntry{Number: "ORD-C", Customer: Customer{Name: "Eva"}}))
	plain := NewManager(f.store.MemoryStore, WithMirror(f.mirror))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := plain.SetStatus(ctx, "ORD-C", StatusEnRoute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := plain.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "one restore, the rest update")
}

func TestFindByPhoneNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.checkout(t).Order
	f.clock = fixedNow.Add(time.Minute)
	second := f.checkout(t).Order

	got, err := f.m.FindByPhone(ctx, "55")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	got, err = f.m.FindByPhone(ctx, "999")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.m.FindByPhone(ctx, " ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.checkout(t).Order

	notes := "ring twice"
	status := StatusEnRoute
	updated, err := f.m.Update(ctx, o.ID, Patch{Notes: &notes, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "ring twice", *updated.Notes)
	assert.Equal(t, StatusEnRoute, updated.Status)
	assert.Equal(t, o.Number, updated.Number)
	e, _ := f.mirror.Find(ctx, o.Number)
	assert.Equal(t, StatusEnRoute, e.Status)

	bad := Status("lost")
	_, err = f.m.Update(ctx, o.ID, Patch{Status: &bad})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.m.Update(ctx, o.ID, Patch{})
	assert.ErrorIs(t, err, ErrValidation)
	empty := ""
	_, err = f.m.Update(ctx, o.ID, Patch{Phone: &empty})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.m.Update(ctx, "pid_missing", Patch{Notes: &notes})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.m.Delete(ctx, o.ID))
	_, err = f.m.Get(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.m.Delete(ctx, o.ID), ErrNotFound)
	_, err = f.m.GetStatus(ctx, o.Number)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTraceIDOnEvents(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t).Order
	ctx := WithTraceID(context.Background(), "req-42")
	_, err := f.m.SetStatus(ctx, o.Number, StatusEnRoute)
	require.NoError(t, err)
	last := f.events.envs[len(f.events.envs)-1]
	assert.Equal(t, "req-42", last.TraceID)

	var payload OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, StatusPending, payload.From)
	assert.Equal(t, StatusEnRoute, payload.To)
}

type recordingCache struct {
	mu      sync.Mutex
	dropped []string
}

func (c *recordingCache) Invalidate(_ context.Context, number string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, number)
	return nil
}

func TestStatusWritesDropCachedStatus(t *testing.T) {
	cache := &recordingCache{}
	f := newFixture(t, WithStatusCache(cache))
	ctx := context.Background()
	o := f.checkout(t).Order
	assert.Empty(t, cache.dropped)

	_, err := f.m.SetStatus(ctx, o.Number, StatusEnRoute)
	require.NoError(t, err)
	_, err = f.m.SetStatusOnly(ctx, o.Number, StatusCompleted)
	require.NoError(t, err)
	status := StatusCancelled
	_, err = f.m.Update(ctx, o.ID, Patch{Status: &status})
	require.NoError(t, err)
	notes := "no status"
	_, err = f.m.Update(ctx, o.ID, Patch{Notes: &notes})
	require.NoError(t, err)
	require.NoError(t, f.m.Delete(ctx, o.ID))

	assert.Equal(t, []string{o.Number, o.Number, o.Number, o.Number}, cache.dropped)

	// rejected writes leave the cache alone
	_, err = f.m.SetStatusOnly(ctx, o.Number, StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, cache.dropped, 4)
}

func TestStatusCacheDroppedEvenWhenVerifyFails(t *testing.T) {
	cache := &recordingCache{}
	f := newFixture(t, WithStatusCache(cache), WithStrictVerify(true))
	o := f.checkout(t).Order
	f.store.statusRead = StatusPending

	_, err := f.m.SetStatus(context.Background(), o.Number, StatusEnRoute)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []string{o.Number}, cache.dropped)
}

func TestGetStatusConnectionError(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t).Order
	f.store.pingErr = errors.New("dial tcp: connection refused")

	_, err := f.m.GetStatus(context.Background(), o.Number)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestOrderFromMirrorDefaults(t *testing.T) {
	o, err := orderFromMirror(MirrorEntry{Number: "ORD-9", Total: decimal.NewFromInt(5)}, StatusCompleted, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "[]", o.Items)
	assert.Equal(t, "[]", o.ProductImages)
	assert.Equal(t, restoredName, o.CustomerName)
	assert.Equal(t, restoredPhone, o.Phone)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, fixedNow, o.CreatedAt)
	require.NotNil(t, o.EstimatedDelivery)
	assert.Equal(t, fixedNow.Add(DeliveryOffset), *o.EstimatedDelivery)

	date := fixedNow.Add(-24 * time.Hour)
	o, err = orderFromMirror(MirrorEntry{
		Number:   "ORD-9",
		Products: []CartItem{{Product: CartProduct{ID: "p2", Image: "p2.png"}, Quantity: 3}},
		Date:     &date,
	}, StatusPending, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 3, o.ProductCount)
	assert.Equal(t, date, o.CreatedAt)
	assert.Equal(t, fixedNow, o.UpdatedAt)
	assert.JSONEq(t, `[{"id":"p2","imagen":"p2.png"}]`, o.ProductImages)
}
