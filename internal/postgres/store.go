package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/bloom-orders/internal/orders"
)

const (
	codeUniqueViolation = "23505"
	codeInvalidText     = "22P02"
)

// Store implements orders.UnitOfWork on a pgx pool. Each unit is one pgx.Tx;
// rows read for update are locked with SELECT ... FOR UPDATE until commit.
type Store struct{ DB *pgxpool.Pool }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, true, fn)
}

func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, lock bool, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, opts)
	if err != nil {
		return persistence("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &unit{tx: tx, lock: lock}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistence("commit", err)
	}
	return nil
}

type unit struct {
	tx   pgx.Tx
	lock bool
}

func (u *unit) Catalog() orders.CatalogStore { return &catalogRepo{u} }
func (u *unit) Orders() orders.OrderStore    { return &orderRepo{u} }

func (u *unit) forUpdate() string {
	if u.lock {
		return " FOR UPDATE"
	}
	return ""
}

func persistence(op string, err error) error {
	return &orders.PersistenceError{Op: op, Err: errors.WithStack(err)}
}

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse numeric %q", s)
	}
	return d, nil
}
