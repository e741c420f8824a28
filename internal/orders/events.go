package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, number string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: number,
		Payload:       b,
	}, nil
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID      string          `json:"order_id"`
	Number       string          `json:"numero_orden"`
	CustomerName string          `json:"nombre_cliente"`
	Phone        string          `json:"telefono"`
	Items        []ItemQty       `json:"items"`
	ProductCount int             `json:"cantidad_productos"`
	Total        decimal.Decimal `json:"total"`
}

type OrderStatusChangedPayload struct {
	OrderID  string    `json:"order_id"`
	Number   string    `json:"numero_orden"`
	From     Status    `json:"from,omitempty"`
	To       Status    `json:"to"`
	Restored bool      `json:"restored"`
	At       time.Time `json:"at"`
}

// Publisher delivers order events. Delivery is best-effort: the manager logs
// failures and never fails an operation because of them.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, Envelope) error { return nil }
