package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const productColumns = `id, col_nombre, col_tipo, col_imagen, col_descripcion,
	col_precio_compra, col_precio_puerta, col_precio_domicilio, col_stock, col_estado,
	col_proveedor, col_cupon_descuento, col_fecha_vencimiento`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Image, &p.Description,
		&p.PurchasePrice, &p.DoorPrice, &p.DeliveryPrice, &p.Stock, &p.Status,
		&p.Supplier, &p.Coupon, &p.ExpiresAt)
	return p, err
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		return scanProduct(row)
	})
}

func (r *Repo) Get(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) Upsert(ctx context.Context, p Product) (bool, error) {
	var inserted bool
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			col_nombre=EXCLUDED.col_nombre, col_tipo=EXCLUDED.col_tipo,
			col_imagen=EXCLUDED.col_imagen, col_descripcion=EXCLUDED.col_descripcion,
			col_precio_compra=EXCLUDED.col_precio_compra, col_precio_puerta=EXCLUDED.col_precio_puerta,
			col_precio_domicilio=EXCLUDED.col_precio_domicilio, col_stock=EXCLUDED.col_stock,
			col_estado=EXCLUDED.col_estado, col_proveedor=EXCLUDED.col_proveedor,
			col_cupon_descuento=EXCLUDED.col_cupon_descuento,
			col_fecha_vencimiento=EXCLUDED.col_fecha_vencimiento
		RETURNING (xmax = 0)`,
		p.ID, p.Name, p.Category, p.Image, p.Description,
		p.PurchasePrice, p.DoorPrice, p.DeliveryPrice, p.Stock, p.Status,
		p.Supplier, p.Coupon, p.ExpiresAt,
	).Scan(&inserted)
	return inserted, err
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT DISTINCT col_tipo FROM products WHERE col_tipo IS NOT NULL ORDER BY col_tipo`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
