package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres backed Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const orderColumns = `id, numero_orden, nombre_cliente, correo, telefono, direccion,
	metodo_pago, metodo_envio, articulos, imagenes_productos, total, estado,
	fecha_creacion, fecha_actualizacion, fecha_entrega_estimada, notas,
	codigo_descuento, cantidad_productos, contador_ordenes_correo, contador_ordenes_telefono`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.CustomerName, &o.Email, &o.Phone, &o.Address,
		&o.PaymentMethod, &o.ShippingMethod, &o.Items, &o.ProductImages, &o.Total, &status,
		&o.CreatedAt, &o.UpdatedAt, &o.EstimatedDelivery, &o.Notes,
		&o.DiscountCode, &o.ProductCount, &o.EmailOrderCount, &o.PhoneOrderCount)
	o.Status = Status(status)
	return o, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		return scanOrder(row)
	})
}

func (r *Repo) Ping(ctx context.Context) error {
	_, err := r.DB.Exec(ctx, `SELECT 1 FROM pedidos LIMIT 1`)
	return err
}

func (r *Repo) Insert(ctx context.Context, o Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO pedidos(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		o.ID, o.Number, o.CustomerName, o.Email, o.Phone, o.Address,
		o.PaymentMethod, o.ShippingMethod, o.Items, o.ProductImages, o.Total, string(o.Status),
		o.CreatedAt, o.UpdatedAt, o.EstimatedDelivery, o.Notes,
		o.DiscountCode, o.ProductCount, o.EmailOrderCount, o.PhoneOrderCount,
	)
	return err
}

func (r *Repo) InsertItems(ctx context.Context, items []LineItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pedido_items(pedido_id, producto_id, cantidad, total, subtotal, estado)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.OrderID, it.ProductID, it.Quantity, it.Total, it.Subtotal, string(it.Status),
		); err != nil {
			return fmt.Errorf("item %s: %w", it.ProductID, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) FindByNumber(ctx context.Context, number string) (*Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM pedidos WHERE numero_orden=$1 LIMIT 2`, number)
	if err != nil {
		return nil, err
	}
	found, err := collectOrders(rows)
	if err != nil {
		return nil, err
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

func (r *Repo) StatusByNumber(ctx context.Context, number string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT estado FROM pedidos WHERE numero_orden=$1`, number).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return Status(s), err
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM pedidos WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) Items(ctx context.Context, orderID string) ([]LineItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, pedido_id, producto_id, cantidad, total, subtotal, estado
		FROM pedido_items WHERE pedido_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (LineItem, error) {
		var (
			it     LineItem
			status string
		)
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Total, &it.Subtotal, &status)
		it.Status = Status(status)
		return it, err
	})
}

func (r *Repo) List(ctx context.Context) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM pedidos ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *Repo) SearchByPhone(ctx context.Context, fragment string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM pedidos
		WHERE telefono ILIKE $1
		ORDER BY fecha_creacion DESC`, "%"+escapeLike(fragment)+"%")
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, s Status, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE pedidos SET estado=$2, fecha_actualizacion=$3 WHERE id=$1`, id, string(s), at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, id string, p Patch, at time.Time) (*Order, error) {
	var (
		sets []string
		args = []any{id}
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.CustomerName != nil {
		add("nombre_cliente", *p.CustomerName)
	}
	if p.Email != nil {
		add("correo", *p.Email)
	}
	if p.Phone != nil {
		add("telefono", *p.Phone)
	}
	if p.Address != nil {
		add("direccion", *p.Address)
	}
	if p.PaymentMethod != nil {
		add("metodo_pago", *p.PaymentMethod)
	}
	if p.ShippingMethod != nil {
		add("metodo_envio", *p.ShippingMethod)
	}
	if p.Status != nil {
		add("estado", string(*p.Status))
	}
	if p.Total != nil {
		add("total", *p.Total)
	}
	if p.EstimatedDelivery != nil {
		add("fecha_entrega_estimada", *p.EstimatedDelivery)
	}
	if p.Notes != nil {
		add("notas", *p.Notes)
	}
	if p.DiscountCode != nil {
		add("codigo_descuento", *p.DiscountCode)
	}
	add("fecha_actualizacion", at)

	o, err := scanOrder(r.DB.QueryRow(ctx,
		`UPDATE pedidos SET `+strings.Join(sets, ", ")+` WHERE id=$1 RETURNING `+orderColumns, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM pedidos WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
