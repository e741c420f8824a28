package orders

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a row of the pedidos table.
type Order struct {
	ID                string          `json:"id"`
	Number            string          `json:"numero_orden"`
	CustomerName      string          `json:"nombre_cliente"`
	Email             string          `json:"correo"`
	Phone             string          `json:"telefono"`
	Address           string          `json:"direccion"`
	PaymentMethod     string          `json:"metodo_pago"`
	ShippingMethod    string          `json:"metodo_envio"`
	Items             string          `json:"articulos"`          // JSON encoded []CartItem
	ProductImages     string          `json:"imagenes_productos"` // JSON encoded []ImageRef
	Total             decimal.Decimal `json:"total"`
	Status            Status          `json:"estado"`
	CreatedAt         time.Time       `json:"fecha_creacion"`
	UpdatedAt         time.Time       `json:"fecha_actualizacion"`
	EstimatedDelivery *time.Time      `json:"fecha_entrega_estimada"`
	Notes             *string         `json:"notas"`
	DiscountCode      *string         `json:"codigo_descuento"`
	ProductCount      int             `json:"cantidad_productos"`
	EmailOrderCount   int             `json:"contador_ordenes_correo"`
	PhoneOrderCount   int             `json:"contador_ordenes_telefono"`
}

// LineItem is a row of pedido_items. Its status is written once at creation.
type LineItem struct {
	ID        int64           `json:"id,omitempty"`
	OrderID   string          `json:"pedido_id"`
	ProductID string          `json:"producto_id"`
	Quantity  int             `json:"cantidad"`
	Total     decimal.Decimal `json:"total"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Status    Status          `json:"estado"`
}

// ProductID accepts both JSON strings and numbers; storefront clients send either.
type ProductID string

func (p *ProductID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = ProductID(n.String())
	return nil
}

type CartProduct struct {
	ID    ProductID       `json:"id" validate:"required"`
	Name  string          `json:"col_nombre,omitempty"`
	Image string          `json:"col_imagen,omitempty"`
	Price decimal.Decimal `json:"col_precio_puerta"`
}

type CartItem struct {
	Product  CartProduct `json:"producto"`
	Quantity int         `json:"cantidad" validate:"gt=0"`
}

type ImageRef struct {
	ID    ProductID `json:"id"`
	Image string    `json:"imagen"`
}

// Customer is the checkout form. The same shape is stored as datosCliente in
// the mirror.
type Customer struct {
	Name          string `json:"nombre" validate:"required"`
	Email         string `json:"correo,omitempty" validate:"omitempty,email"`
	Phone         string `json:"celular" validate:"required"`
	Address       string `json:"direccion,omitempty"`
	PaymentMethod string `json:"metodoPago,omitempty"`
}

// MirrorEntry is the denormalized snapshot kept in the local mirror.
type MirrorEntry struct {
	Number   string          `json:"numeroOrden"`
	Status   Status          `json:"estado"`
	Customer Customer        `json:"datosCliente"`
	Products []CartItem      `json:"productos"`
	Total    decimal.Decimal `json:"total"`
	Date     *time.Time      `json:"fecha,omitempty"`
}

// Patch carries the mutable fields of an order. The order number has no
// field here on purpose: it never changes once assigned.
type Patch struct {
	CustomerName      *string          `json:"nombre_cliente,omitempty"`
	Email             *string          `json:"correo,omitempty"`
	Phone             *string          `json:"telefono,omitempty"`
	Address           *string          `json:"direccion,omitempty"`
	PaymentMethod     *string          `json:"metodo_pago,omitempty"`
	ShippingMethod    *string          `json:"metodo_envio,omitempty"`
	Status            *Status          `json:"estado,omitempty"`
	Total             *decimal.Decimal `json:"total,omitempty"`
	EstimatedDelivery *time.Time       `json:"fecha_entrega_estimada,omitempty"`
	Notes             *string          `json:"notas,omitempty"`
	DiscountCode      *string          `json:"codigo_descuento,omitempty"`
}

func (p Patch) Empty() bool {
	return p.CustomerName == nil && p.Email == nil && p.Phone == nil && p.Address == nil &&
		p.PaymentMethod == nil && p.ShippingMethod == nil && p.Status == nil && p.Total == nil &&
		p.EstimatedDelivery == nil && p.Notes == nil && p.DiscountCode == nil
}

// Apply copies the set fields onto o.
func (p Patch) Apply(o *Order) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&o.CustomerName, p.CustomerName)
	set(&o.Email, p.Email)
	set(&o.Phone, p.Phone)
	set(&o.Address, p.Address)
	set(&o.PaymentMethod, p.PaymentMethod)
	set(&o.ShippingMethod, p.ShippingMethod)
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Total != nil {
		o.Total = *p.Total
	}
	if p.EstimatedDelivery != nil {
		t := *p.EstimatedDelivery
		o.EstimatedDelivery = &t
	}
	if p.Notes != nil {
		n := *p.Notes
		o.Notes = &n
	}
	if p.DiscountCode != nil {
		d := *p.DiscountCode
		o.DiscountCode = &d
	}
}

// Created is returned by CreateOrder.
type Created struct {
	Order Order      `json:"pedido"`
	Items []LineItem `json:"items"`
}

// StatusChange describes the outcome of a status write.
type StatusChange struct {
	OrderID  string    `json:"id"`
	Number   string    `json:"numero_orden"`
	From     Status    `json:"estado_anterior,omitempty"`
	To       Status    `json:"estado"`
	At       time.Time `json:"fecha_actualizacion"`
	Restored bool      `json:"restaurado"` // rebuilt from the mirror
	Verified bool      `json:"verificado"`
}
