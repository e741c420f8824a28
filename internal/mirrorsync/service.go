// Package mirrorsync refreshes the mirror from order events so entries
// written by other instances converge on the store's view.
package mirrorsync

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type OrderFinder interface {
	FindByNumber(ctx context.Context, number string) (*orders.Order, error)
}

type MirrorWriter interface {
	Put(ctx context.Context, e orders.MirrorEntry) error
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Service struct {
	Orders OrderFinder
	Mirror MirrorWriter
	Dedup  Deduper
	Log    zerolog.Logger
}

type numbered struct {
	Number string `json:"numero_orden"`
}

// HandleOrderEvent is installed as the consumer handler for both order
// topics. A nil return commits the offset.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message; committing skips it
		s.Log.Error().Err(err).Str(logging.Topic, m.Topic).Int64("offset", m.Offset).Msg("undecodable envelope")
		return nil
	}
	if h := kafkax.HeaderValue(m, kafkax.HeaderEventType); h != "" && h != env.EventType {
		s.Log.Warn().Str("header", h).Str(logging.Event, env.EventType).Msg("event type header mismatch")
	}
	switch env.EventType {
	case orders.EventOrderCreated, orders.EventOrderStatusChanged:
	default:
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	if err := s.refresh(ctx, env); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.Log.Warn().Err(ferr).Str(logging.Event, env.EventID).Msg("dedup release failed")
		}
		return err
	}
	return nil
}

func (s *Service) refresh(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[numbered](env.Payload)
	if err != nil {
		return err
	}
	number := p.Number
	if number == "" {
		number = env.CorrelationID
	}
	log := s.Log.With().Str(logging.Order, number).Str(logging.Event, env.EventType).Logger()

	o, err := s.Orders.FindByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("find order %s: %w", number, err)
	}
	if o == nil {
		log.Info().Msg("order gone from store; mirror left as is")
		return nil
	}
	if err := s.Mirror.Put(ctx, EntryFromOrder(*o)); err != nil {
		return fmt.Errorf("mirror put %s: %w", number, err)
	}
	log.Debug().Str(logging.Status, string(o.Status)).Msg("mirror refreshed")
	return nil
}

// EntryFromOrder rebuilds the mirror snapshot from a stored order. The store
// wins over whatever the mirror held.
func EntryFromOrder(o orders.Order) orders.MirrorEntry {
	var cart []orders.CartItem
	if o.Items != "" {
		if err := json.Unmarshal([]byte(o.Items), &cart); err != nil {
			cart = nil
		}
	}
	created := o.CreatedAt
	return orders.MirrorEntry{
		Number: o.Number,
		Status: o.Status,
		Customer: orders.Customer{
			Name:          o.CustomerName,
			Email:         o.Email,
			Phone:         o.Phone,
			Address:       o.Address,
			PaymentMethod: o.PaymentMethod,
		},
		Products: cart,
		Total:    o.Total,
		Date:     &created,
	}
}
