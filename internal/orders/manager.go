package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DefaultEmail    = "no-email@example.com"
	DefaultShipping = "standard"
	DeliveryOffset  = 48 * time.Hour
)

// Placeholders for orders rebuilt from a mirror entry, which only carries
// the checkout form.
const (
	restoredName    = "Customer"
	restoredEmail   = "customer@example.com"
	restoredPhone   = "0000000000"
	restoredAddress = "No address"
	restoredPayment = "cash"
)

// Manager owns the order lifecycle: checkout, status changes and the
// reconciliation between the store and the mirror. The store is the source
// of truth; mirror writes and events happen only after the store accepted
// the write and never fail the operation.
type Manager struct {
	store        Store
	mirror       Mirror
	statusCache  StatusCache
	events       Publisher
	producer     string
	policy       TransitionPolicy
	strictVerify bool
	ids          *IDGenerator
	now          func() time.Time
	log          zerolog.Logger
	metrics      *Metrics
	locks        *keyedMutex
	validate     *validator.Validate
}

type Option func(*Manager)

func WithMirror(mr Mirror) Option { return func(m *Manager) { m.mirror = mr } }

// WithStatusCache registers a cache whose entries are dropped, under the
// per-number lock, after every status write.
func WithStatusCache(c StatusCache) Option { return func(m *Manager) { m.statusCache = c } }

func WithPublisher(p Publisher, producer string) Option {
	return func(m *Manager) { m.events, m.producer = p, producer }
}

func WithPolicy(p TransitionPolicy) Option { return func(m *Manager) { m.policy = p } }

// WithStrictVerify turns a post-write status mismatch into ErrConflict
// instead of a logged warning.
func WithStrictVerify(on bool) Option { return func(m *Manager) { m.strictVerify = on } }

func WithIDGenerator(g *IDGenerator) Option { return func(m *Manager) { m.ids = g } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

func WithMetrics(mt *Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		mirror:      nopMirror{},
		statusCache: nopStatusCache{},
		events:      nopPublisher{},
		producer:    "storefront-api",
		policy:      Unrestricted,
		ids:         NewIDGenerator(),
		now:         time.Now,
		log:         zerolog.Nop(),
		locks:       newKeyedMutex(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateOrder stores a new pending order and its line items. The total is
// taken as given. If the items cannot be stored the order row stays behind
// and the error is returned.
func (m *Manager) CreateOrder(ctx context.Context, c Customer, cart []CartItem, total decimal.Decimal) (*Created, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	if err := m.validateCheckout(c, cart, total); err != nil {
		return nil, err
	}
	if c.Email == "" {
		c.Email = DefaultEmail
	}

	itemsJSON, err := json.Marshal(cart)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	images := make([]ImageRef, 0, len(cart))
	count := 0
	for _, it := range cart {
		images = append(images, ImageRef{ID: it.Product.ID, Image: it.Product.Image})
		count += it.Quantity
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("encode images: %w", err)
	}

	now := m.now()
	delivery := now.Add(DeliveryOffset)
	o := Order{
		ID:                m.ids.OrderID(now),
		Number:            m.ids.OrderNumber(now),
		CustomerName:      c.Name,
		Email:             c.Email,
		Phone:             c.Phone,
		Address:           c.Address,
		PaymentMethod:     c.PaymentMethod,
		ShippingMethod:    DefaultShipping,
		Items:             string(itemsJSON),
		ProductImages:     string(imagesJSON),
		Total:             total,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		EstimatedDelivery: &delivery,
		ProductCount:      count,
	}
	log := m.log.With().Str(logging.Order, o.Number).Logger()

	if err := m.store.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("insert order %s: %w", o.Number, err)
	}

	items := make([]LineItem, 0, len(cart))
	for _, it := range cart {
		line := it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		items = append(items, LineItem{
			OrderID:   o.ID,
			ProductID: string(it.Product.ID),
			Quantity:  it.Quantity,
			Total:     line,
			Subtotal:  line,
			Status:    StatusPending,
		})
	}
	if err := m.store.InsertItems(ctx, items); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("line items not stored; order row kept")
		return nil, fmt.Errorf("insert items for %s: %w", o.Number, err)
	}

	m.mirrorPut(ctx, MirrorEntry{
		Number:   o.Number,
		Status:   o.Status,
		Customer: c,
		Products: cart,
		Total:    total,
		Date:     &now,
	})
	qty := make([]ItemQty, 0, len(items))
	for _, it := range items {
		qty = append(qty, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	m.publish(ctx, TopicOrderCreated, EventOrderCreated, o.Number, OrderCreatedPayload{
		OrderID:      o.ID,
		Number:       o.Number,
		CustomerName: o.CustomerName,
		Phone:        o.Phone,
		Items:        qty,
		ProductCount: o.ProductCount,
		Total:        o.Total,
	})
	m.metrics.orderCreated()
	log.Info().Int("items", len(items)).Str("total", total.String()).Msg("order created")
	return &Created{Order: o, Items: items}, nil
}

func (m *Manager) validateCheckout(c Customer, cart []CartItem, total decimal.Decimal) error {
	if err := m.validate.Struct(c); err != nil {
		return fmt.Errorf("%w: customer %s", ErrValidation, describe(err))
	}
	if len(cart) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	for i, it := range cart {
		if err := m.validate.Struct(it); err != nil {
			return fmt.Errorf("%w: cart[%d] %s", ErrValidation, i, describe(err))
		}
		if it.Product.Price.IsNegative() {
			return fmt.Errorf("%w: cart[%d] negative price", ErrValidation, i)
		}
	}
	if total.IsNegative() {
		return fmt.Errorf("%w: negative total", ErrValidation)
	}
	return nil
}

func describe(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func (m *Manager) checkStatusInput(number string, s Status) (Status, error) {
	st, err := ParseStatus(string(s))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(number) == "" {
		return "", fmt.Errorf("%w: order number is required", ErrValidation)
	}
	return st, nil
}

func (m *Manager) probe(ctx context.Context) error {
	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// SetStatus writes a new status for the order with the given number. When
// the store has no such order but the mirror does, the order is rebuilt
// from the mirror entry and inserted with the new status.
func (m *Manager) SetStatus(ctx context.Context, number string, s Status) (*StatusChange, error) {
	st, err := m.checkStatusInput(number, s)
	if err != nil {
		m.metrics.transition("", "invalid")
		return nil, err
	}
	unlock := m.locks.Lock(number)
	defer unlock()

	if err := m.probe(ctx); err != nil {
		return nil, err
	}
	cur, err := m.store.FindByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", number, err)
	}

	var change *StatusChange
	if cur == nil {
		change, err = m.restoreFromMirror(ctx, number, st)
	} else {
		change, err = m.writeStatus(ctx, cur, st)
	}
	if err != nil {
		return nil, err
	}
	m.dropCachedStatus(ctx, number)

	m.mirrorStatus(ctx, number, st)
	if err := m.verify(ctx, change, func(ctx context.Context) (Status, error) {
		return m.store.StatusByNumber(ctx, number)
	}); err != nil {
		return nil, err
	}
	m.statusChanged(ctx, change)
	return change, nil
}

// SetStatusOnly updates the status of an order that must already exist in
// the store. It never consults the mirror for a missing order.
func (m *Manager) SetStatusOnly(ctx context.Context, number string, s Status) (*StatusChange, error) {
	st, err := m.checkStatusInput(number, s)
	if err != nil {
		m.metrics.transition("", "invalid")
		return nil, err
	}
	unlock := m.locks.Lock(number)
	defer unlock()

	if err := m.probe(ctx); err != nil {
		return nil, err
	}
	cur, err := m.store.FindByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", number, err)
	}
	if cur == nil {
		m.metrics.transition(st, "not_found")
		return nil, fmt.Errorf("order %s: %w", number, ErrNotFound)
	}
	change, err := m.writeStatus(ctx, cur, st)
	if err != nil {
		return nil, err
	}
	m.dropCachedStatus(ctx, number)

	m.mirrorStatus(ctx, number, st)
	if err := m.verify(ctx, change, func(ctx context.Context) (Status, error) {
		o, err := m.store.Get(ctx, cur.ID)
		if err != nil {
			return "", err
		}
		return o.Status, nil
	}); err != nil {
		return nil, err
	}
	m.statusChanged(ctx, change)
	return change, nil
}

func (m *Manager) writeStatus(ctx context.Context, cur *Order, st Status) (*StatusChange, error) {
	if !m.policy.allows(cur.Status, st) {
		m.metrics.transition(st, "rejected")
		return nil, fmt.Errorf("%w: %s -> %s for order %s", ErrInvalidTransition, cur.Status, st, cur.Number)
	}
	now := m.now()
	if err := m.store.UpdateStatus(ctx, cur.ID, st, now); err != nil {
		return nil, fmt.Errorf("update status of %s: %w", cur.Number, err)
	}
	return &StatusChange{
		OrderID: cur.ID,
		Number:  cur.Number,
		From:    cur.Status,
		To:      st,
		At:      now,
	}, nil
}

func (m *Manager) restoreFromMirror(ctx context.Context, number string, st Status) (*StatusChange, error) {
	e, err := m.mirror.Find(ctx, number)
	if err != nil {
		m.log.Warn().Err(err).Str(logging.Order, number).Msg("mirror lookup failed")
		e = nil
	}
	if e == nil {
		m.metrics.transition(st, "not_found")
		return nil, fmt.Errorf("order %s: %w", number, ErrNotFound)
	}

	now := m.now()
	o, err := orderFromMirror(*e, st, now)
	if err != nil {
		return nil, fmt.Errorf("restore order %s: %w", number, err)
	}
	o.ID = m.ids.OrderID(now)
	if err := m.store.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("restore order %s: %w", number, err)
	}
	m.metrics.restoredFromMirror()
	m.log.Info().Str(logging.Order, number).Str("order_id", o.ID).Msg("order restored from mirror")
	return &StatusChange{
		OrderID:  o.ID,
		Number:   number,
		From:     e.Status,
		To:       st,
		At:       now,
		Restored: true,
	}, nil
}

func orderFromMirror(e MirrorEntry, st Status, now time.Time) (Order, error) {
	or := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	products := e.Products
	if products == nil {
		products = []CartItem{}
	}
	items, err := json.Marshal(products)
	if err != nil {
		return Order{}, fmt.Errorf("encode cart: %w", err)
	}
	images := make([]ImageRef, 0, len(products))
	count := 0
	for _, it := range products {
		images = append(images, ImageRef{ID: it.Product.ID, Image: it.Product.Image})
		count += it.Quantity
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return Order{}, fmt.Errorf("encode images: %w", err)
	}

	created := now
	if e.Date != nil && !e.Date.IsZero() {
		created = *e.Date
	}
	delivery := created.Add(DeliveryOffset)
	return Order{
		Number:            e.Number,
		CustomerName:      or(e.Customer.Name, restoredName),
		Email:             or(e.Customer.Email, restoredEmail),
		Phone:             or(e.Customer.Phone, restoredPhone),
		Address:           or(e.Customer.Address, restoredAddress),
		PaymentMethod:     or(e.Customer.PaymentMethod, restoredPayment),
		ShippingMethod:    DefaultShipping,
		Items:             string(items),
		ProductImages:     string(imagesJSON),
		Total:             e.Total,
		Status:            st,
		CreatedAt:         created,
		UpdatedAt:         now,
		EstimatedDelivery: &delivery,
		ProductCount:      count,
	}, nil
}

// verify re-reads the status after a write. A mismatch is only logged
// unless strict verification is on.
func (m *Manager) verify(ctx context.Context, c *StatusChange, read func(context.Context) (Status, error)) error {
	got, err := read(ctx)
	if err == nil && got == c.To {
		c.Verified = true
		return nil
	}
	m.metrics.verifyMismatch()
	ev := m.log.Warn().Str(logging.Order, c.Number).Str("expected", string(c.To))
	if err != nil {
		ev = ev.Err(err)
	} else {
		ev = ev.Str("actual", string(got))
	}
	ev.Msg("status verification mismatch")
	if m.strictVerify {
		return fmt.Errorf("%w: order %s not at %q after write", ErrConflict, c.Number, c.To)
	}
	return nil
}

func (m *Manager) statusChanged(ctx context.Context, c *StatusChange) {
	outcome := "updated"
	if c.Restored {
		outcome = "restored"
	}
	m.metrics.transition(c.To, outcome)
	m.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, c.Number, OrderStatusChangedPayload{
		OrderID:  c.OrderID,
		Number:   c.Number,
		From:     c.From,
		To:       c.To,
		Restored: c.Restored,
		At:       c.At,
	})
	m.log.Info().Str(logging.Order, c.Number).Str("from", string(c.From)).
		Str(logging.Status, string(c.To)).Bool("restored", c.Restored).Msg("status changed")
}

func (m *Manager) GetStatus(ctx context.Context, number string) (Status, error) {
	if strings.TrimSpace(number) == "" {
		return "", fmt.Errorf("%w: order number is required", ErrValidation)
	}
	if err := m.probe(ctx); err != nil {
		return "", err
	}
	s, err := m.store.StatusByNumber(ctx, number)
	if err != nil {
		return "", fmt.Errorf("order %s: %w", number, err)
	}
	return s, nil
}

func (m *Manager) FindByPhone(ctx context.Context, fragment string) ([]Order, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, fmt.Errorf("%w: phone fragment is required", ErrValidation)
	}
	out, err := m.store.SearchByPhone(ctx, fragment)
	if err != nil {
		return nil, fmt.Errorf("search by phone: %w", err)
	}
	return out, nil
}

func (m *Manager) List(ctx context.Context) ([]Order, error) {
	out, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Order, error) {
	o, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	return o, nil
}

func (m *Manager) Items(ctx context.Context, id string) ([]LineItem, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	items, err := m.store.Items(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("items of %s: %w", id, err)
	}
	return items, nil
}

// Update applies a field patch. A status in the patch goes through the same
// validation as SetStatus and is mirrored best-effort.
func (m *Manager) Update(ctx context.Context, id string, p Patch) (*Order, error) {
	if p.Empty() {
		return nil, fmt.Errorf("%w: empty patch", ErrValidation)
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	if p.CustomerName != nil && strings.TrimSpace(*p.CustomerName) == "" {
		return nil, fmt.Errorf("%w: nombre_cliente cannot be empty", ErrValidation)
	}
	if p.Phone != nil && strings.TrimSpace(*p.Phone) == "" {
		return nil, fmt.Errorf("%w: telefono cannot be empty", ErrValidation)
	}
	if p.Total != nil && p.Total.IsNegative() {
		return nil, fmt.Errorf("%w: negative total", ErrValidation)
	}
	if p.Status == nil {
		o, err := m.store.Update(ctx, id, p, m.now())
		if err != nil {
			return nil, fmt.Errorf("update order %s: %w", id, err)
		}
		return o, nil
	}

	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	unlock := m.locks.Lock(cur.Number)
	defer unlock()
	if !m.policy.allows(cur.Status, *p.Status) {
		return nil, fmt.Errorf("%w: %s -> %s for order %s", ErrInvalidTransition, cur.Status, *p.Status, cur.Number)
	}
	o, err := m.store.Update(ctx, id, p, m.now())
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}
	m.dropCachedStatus(ctx, o.Number)
	m.mirrorStatus(ctx, o.Number, o.Status)
	return o, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("order %s: %w", id, err)
	}
	unlock := m.locks.Lock(cur.Number)
	defer unlock()
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	m.dropCachedStatus(ctx, cur.Number)
	return nil
}

func (m *Manager) dropCachedStatus(ctx context.Context, number string) {
	if err := m.statusCache.Invalidate(ctx, number); err != nil {
		m.log.Warn().Err(err).Str(logging.Order, number).Msg("status cache invalidate failed")
	}
}

func (m *Manager) mirrorPut(ctx context.Context, e MirrorEntry) {
	if err := m.mirror.Put(ctx, e); err != nil {
		m.metrics.mirrorError()
		m.log.Warn().Err(err).Str(logging.Order, e.Number).Msg("mirror put failed")
	}
}

func (m *Manager) mirrorStatus(ctx context.Context, number string, s Status) {
	if _, err := m.mirror.SetStatus(ctx, number, s); err != nil {
		m.metrics.mirrorError()
		m.log.Warn().Err(err).Str(logging.Order, number).Msg("mirror status update failed")
	}
}

func (m *Manager) publish(ctx context.Context, topic, eventType, number string, payload any) {
	env, err := NewEnvelope(eventType, m.producer, number, m.now(), payload)
	if err == nil {
		env.TraceID = TraceID(ctx)
		err = m.events.Publish(ctx, topic, env)
	}
	if err != nil {
		m.log.Warn().Err(err).Str(logging.Topic, topic).Str(logging.Order, number).Msg("event not published")
	}
}

type traceKey struct{}

// WithTraceID tags ctx so published events carry the request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}
