package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderStatusSource is set to "cache" when a status read was served
	// from the status cache because the store was unreachable.
	HeaderStatusSource = "X-Status-Source"
)

type OrdersHandler struct {
	Manager *orders.Manager
	Idem    *redisx.Idempotency
	Status  *redisx.StatusCache
	Timeout time.Duration
	Log     zerolog.Logger
}

type CreateOrderReq struct {
	Customer orders.Customer   `json:"datosCliente"`
	Cart     []orders.CartItem `json:"productos"`
	Total    decimal.Decimal   `json:"total"`
}

type SetStatusReq struct {
	Status orders.Status `json:"estado"`
}

type OrderDetail struct {
	Order orders.Order      `json:"pedido"`
	Items []orders.LineItem `json:"items"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/search", h.searchByPhone)
		r.Get("/number/{numero}/status", h.getStatus)
		r.Put("/number/{numero}/status", h.setStatus)
		r.Put("/number/{numero}/status-only", h.setStatusOnly)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeErr(w, err)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	idemKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if idemKey != "" && h.Idem != nil {
		body, ok, err := h.Idem.Lookup(ctx, idemKey)
		if err != nil {
			h.Log.Warn().Err(err).Str("key", idemKey).Msg("idempotency lookup failed")
		} else if ok {
			w.Header().Set("Idempotent-Replay", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
			return
		}
	}

	created, err := h.Manager.CreateOrder(ctx, req.Customer, req.Cart, req.Total)
	if err != nil {
		writeErr(w, err)
		return
	}
	body, err := json.Marshal(envelope{Success: true, Data: created})
	if err != nil {
		writeErr(w, err)
		return
	}
	if idemKey != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, idemKey, body); err != nil {
			h.Log.Warn().Err(err).Str("key", idemKey).Msg("idempotency store failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(append(body, '\n'))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	out, err := h.Manager.List(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, out)
}

func (h *OrdersHandler) searchByPhone(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	out, err := h.Manager.FindByPhone(ctx, r.URL.Query().Get("telefono"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	o, err := h.Manager.Get(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	items, err := h.Manager.Items(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, OrderDetail{Order: *o, Items: items})
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	// unknown fields, numero_orden included, are rejected
	var p orders.Patch
	if err := decodeJSON(r, &p, true); err != nil {
		writeErr(w, err)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Manager.Update(ctx, chi.URLParam(r, "id"), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Manager.Delete(ctx, id); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"id": id})
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	// The store is authoritative. The cache only answers while it is down.
	number := chi.URLParam(r, "numero")
	s, err := h.Manager.GetStatus(ctx, number)
	if errors.Is(err, orders.ErrConnection) && h.Status != nil {
		if cached, ok, cerr := h.Status.Get(ctx, number); cerr == nil && ok {
			h.Log.Warn().Err(err).Str(logging.Order, number).Msg("store unreachable; serving cached status")
			w.Header().Set(HeaderStatusSource, "cache")
			writeOK(w, http.StatusOK, map[string]string{"numero_orden": number, "estado": cached})
			return
		}
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, number, s)
	writeOK(w, http.StatusOK, map[string]string{"numero_orden": number, "estado": string(s)})
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, h.Manager.SetStatus)
}

func (h *OrdersHandler) setStatusOnly(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, h.Manager.SetStatusOnly)
}

type statusWriter func(ctx context.Context, number string, s orders.Status) (*orders.StatusChange, error)

func (h *OrdersHandler) writeStatus(w http.ResponseWriter, r *http.Request, set statusWriter) {
	var req SetStatusReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeErr(w, err)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	number := chi.URLParam(r, "numero")
	change, err := set(ctx, number, req.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, change)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, number string, s orders.Status) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Set(ctx, number, string(s)); err != nil {
		h.Log.Warn().Err(err).Str(logging.Order, number).Msg("status cache write failed")
	}
}
