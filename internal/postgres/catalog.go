package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/ariefcatur/bloom-orders/internal/orders"
)

type catalogRepo struct{ u *unit }

const productColumns = `id, name, description, price::text, category, stock, image, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var (
		p        orders.Product
		price    string
		category string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &category, &p.Stock, &p.Image, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := parseDecimal(price)
	if err != nil {
		return nil, err
	}
	p.Price = d
	p.Category = orders.Category(category)
	return &p, nil
}

func (r *catalogRepo) GetForUpdate(ctx context.Context, id string) (*orders.Product, error) {
	p, err := scanProduct(r.u.tx.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id=$1`+r.u.forUpdate(), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrProductNotFound
		}
		if code, _ := pgCode(err); code == codeInvalidText {
			return nil, orders.ErrProductNotFound
		}
		return nil, persistence("get product", err)
	}
	return p, nil
}

// Save upserts, so the seed command and the reservation engine share it.
func (r *catalogRepo) Save(ctx context.Context, p *orders.Product) error {
	_, err := r.u.tx.Exec(ctx, `
		INSERT INTO products (id, name, description, price, category, stock, image, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name=$2, description=$3, price=$4, category=$5, stock=$6, image=$7, is_active=$8, updated_at=NOW()`,
		p.ID, p.Name, p.Description, p.Price.String(), string(p.Category), p.Stock, p.Image, p.Active, p.CreatedAt)
	if err != nil {
		return persistence("save product", err)
	}
	return nil
}

func (r *catalogRepo) List(ctx context.Context, activeOnly bool) ([]orders.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY name`

	rows, err := r.u.tx.Query(ctx, q)
	if err != nil {
		return nil, persistence("list products", err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, persistence("scan product", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list products", err)
	}
	return out, nil
}
