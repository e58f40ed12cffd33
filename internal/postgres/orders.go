package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/ariefcatur/bloom-orders/internal/orders"
)

type orderRepo struct{ u *unit }

const orderColumns = `id, number, customer_name, phone, total::text, payment_method, payment_status,
	transaction_ref, deposit::text, balance_due::text, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                       orders.Order
		total, deposit, balance string
		method, pstatus, status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.CustomerName, &o.Phone, &total, &method, &pstatus,
		&o.Payment.TransactionRef, &deposit, &balance, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if o.Payment.Deposit, err = parseDecimal(deposit); err != nil {
		return nil, err
	}
	if o.Payment.BalanceDue, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	o.Payment.Method = orders.PaymentMethod(method)
	o.Payment.Status = orders.PaymentStatus(pstatus)
	o.Status = orders.Status(status)
	return &o, nil
}

func (r *orderRepo) FindByNumber(ctx context.Context, number string) (*orders.Order, error) {
	o, err := scanOrder(r.u.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE number=$1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("find order by number", err)
	}
	if err := r.loadChildren(ctx, []*orders.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepo) FindByID(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(r.u.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`+r.u.forUpdate(), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrOrderNotFound
		}
		if code, _ := pgCode(err); code == codeInvalidText {
			return nil, orders.ErrOrderNotFound
		}
		return nil, persistence("find order", err)
	}
	if err := r.loadChildren(ctx, []*orders.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepo) Insert(ctx context.Context, o *orders.Order) error {
	_, err := r.u.tx.Exec(ctx, `
		INSERT INTO orders (id, number, customer_name, phone, total, payment_method, payment_status,
		                    transaction_ref, deposit, balance_due, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.Number, o.CustomerName, o.Phone, o.Total.String(), string(o.Payment.Method),
		string(o.Payment.Status), o.Payment.TransactionRef, o.Payment.Deposit.String(),
		o.Payment.BalanceDue.String(), string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if code, constraint := pgCode(err); code == codeUniqueViolation && constraint == "orders_number_key" {
			return orders.ErrDuplicateOrderNumber
		}
		return persistence("insert order", err)
	}

	for i, it := range o.Items {
		if _, err := r.u.tx.Exec(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, qty, unit_price)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, i, it.ProductID, it.Qty, it.UnitPrice.String()); err != nil {
			return persistence("insert order item", err)
		}
	}
	return r.appendTracking(ctx, o.ID, 0, o.Tracking)
}

// Update expects the order row to be locked by FindByID in the same tx.
func (r *orderRepo) Update(ctx context.Context, o *orders.Order) error {
	ct, err := r.u.tx.Exec(ctx, `
		UPDATE orders
		SET status=$2, payment_status=$3, transaction_ref=$4, updated_at=$5
		WHERE id=$1`,
		o.ID, string(o.Status), string(o.Payment.Status), o.Payment.TransactionRef, o.UpdatedAt)
	if err != nil {
		return persistence("update order", err)
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}

	var stored int
	if err := r.u.tx.QueryRow(ctx, `SELECT COUNT(*) FROM order_tracking WHERE order_id=$1`, o.ID).Scan(&stored); err != nil {
		return persistence("count tracking", err)
	}
	if stored > len(o.Tracking) {
		return persistence("update order", errors.Errorf("tracking history of %s would shrink", o.ID))
	}
	return r.appendTracking(ctx, o.ID, stored, o.Tracking[stored:])
}

func (r *orderRepo) appendTracking(ctx context.Context, orderID string, from int, entries []orders.TrackingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(`INSERT INTO order_tracking (order_id, seq, status, description, at) VALUES ($1,$2,$3,$4,$5)`,
			orderID, from+i, e.Status, e.Description, e.At)
	}
	if err := r.u.tx.SendBatch(ctx, batch).Close(); err != nil {
		return persistence("append tracking", err)
	}
	return nil
}

func (r *orderRepo) List(ctx context.Context) ([]orders.Order, error) {
	rows, err := r.u.tx.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, number DESC`)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	var list []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, persistence("scan order", err)
		}
		list = append(list, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, persistence("list orders", err)
	}

	if err := r.loadChildren(ctx, list); err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		out = append(out, *o)
	}
	return out, nil
}

// loadChildren fills items and tracking for all given orders with one query
// per child table.
func (r *orderRepo) loadChildren(ctx context.Context, list []*orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, 0, len(list))
	byID := make(map[string]*orders.Order, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := r.u.tx.Query(ctx, `
		SELECT order_id, product_id, qty, unit_price::text
		FROM order_items WHERE order_id = ANY($1::text[]::uuid[])
		ORDER BY order_id, line_no`, ids)
	if err != nil {
		return persistence("load order items", err)
	}
	for rows.Next() {
		var (
			orderID, price string
			it             orders.LineItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Qty, &price); err != nil {
			rows.Close()
			return persistence("scan order item", err)
		}
		if it.UnitPrice, err = parseDecimal(price); err != nil {
			rows.Close()
			return persistence("scan order item", err)
		}
		o := byID[orderID]
		o.Items = append(o.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return persistence("load order items", err)
	}

	rows, err = r.u.tx.Query(ctx, `
		SELECT order_id, status, description, at
		FROM order_tracking WHERE order_id = ANY($1::text[]::uuid[])
		ORDER BY order_id, seq`, ids)
	if err != nil {
		return persistence("load tracking", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			e       orders.TrackingEntry
		)
		if err := rows.Scan(&orderID, &e.Status, &e.Description, &e.At); err != nil {
			return persistence("scan tracking", err)
		}
		o := byID[orderID]
		o.Tracking = append(o.Tracking, e)
	}
	if err := rows.Err(); err != nil {
		return persistence("load tracking", err)
	}
	return nil
}
