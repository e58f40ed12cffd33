package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/bloom-orders/internal/orders"
)

func newProduct(t *testing.T, stock int) *orders.Product {
	t.Helper()
	p, err := orders.NewProduct("Paper Sunflower", decimal.NewFromInt(30), orders.CategorySingleFlower, stock)
	require.NoError(t, err)
	return p
}

func newOrder(t *testing.T, number string) *orders.Order {
	t.Helper()
	o, err := orders.NewOrder(number, "Palesa", "+26651112222", orders.MethodEcoCash,
		[]orders.LineItem{{ProductID: "p1", Qty: 1, UnitPrice: decimal.NewFromInt(30)}}, decimal.NewFromInt(30), time.Now().UTC())
	require.NoError(t, err)
	return o
}

func TestInTx_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	p := newProduct(t, 5)
	s.AddProducts(p)

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		got, err := tx.Catalog().GetForUpdate(ctx, p.ID)
		require.NoError(t, err)
		got.Stock = 1
		require.NoError(t, tx.Catalog().Save(ctx, got))
		require.NoError(t, tx.Orders().Insert(ctx, newOrder(t, "1001")))

		// writes are visible inside the same unit
		again, err := tx.Catalog().GetForUpdate(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Stock)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, ok := s.Product(p.ID)
	require.True(t, ok)
	assert.Equal(t, 5, got.Stock)

	err = s.ReadOnly(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.Orders().FindByNumber(ctx, "1001")
		assert.Nil(t, o)
		return err
	})
	require.NoError(t, err)
}

func TestInTx_CommitPublishesWrites(t *testing.T) {
	s := New()
	o := newOrder(t, "2002")
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.Orders().Insert(ctx, o)
	}))

	err := s.ReadOnly(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		got, err := tx.Orders().FindByNumber(ctx, "2002")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, o.ID, got.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestReadOnly_DropsWrites(t *testing.T) {
	s := New()
	p := newProduct(t, 5)
	s.AddProducts(p)

	require.NoError(t, s.ReadOnly(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		got, err := tx.Catalog().GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		got.Stock = 0
		return tx.Catalog().Save(ctx, got)
	}))

	got, _ := s.Product(p.ID)
	assert.Equal(t, 5, got.Stock)
}

func TestInsert_DuplicateNumber(t *testing.T) {
	s := New()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.Orders().Insert(ctx, newOrder(t, "3003"))
	}))

	err := s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.Orders().Insert(ctx, newOrder(t, "3003"))
	})
	require.ErrorIs(t, err, orders.ErrDuplicateOrderNumber)

	err = s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		if err := tx.Orders().Insert(ctx, newOrder(t, "4004")); err != nil {
			return err
		}
		return tx.Orders().Insert(ctx, newOrder(t, "4004"))
	})
	require.ErrorIs(t, err, orders.ErrDuplicateOrderNumber)
}

func TestSave_RejectsNegativeStock(t *testing.T) {
	s := New()
	p := newProduct(t, 1)
	s.AddProducts(p)

	err := s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		p.Stock = -1
		return tx.Catalog().Save(ctx, p)
	})
	require.ErrorIs(t, err, orders.ErrPersistence)
	got, _ := s.Product(p.ID)
	assert.Equal(t, 1, got.Stock)
}

func TestUpdate_OnlyAppendsTracking(t *testing.T) {
	s := New()
	o := newOrder(t, "5005")
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return tx.Orders().Insert(ctx, o)
	}))

	err := s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		shrunk := o.Clone()
		shrunk.Tracking = shrunk.Tracking[:1]
		return tx.Orders().Update(ctx, shrunk)
	})
	require.ErrorIs(t, err, orders.ErrPersistence)

	err = s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		edited := o.Clone()
		edited.Tracking[0].Description = "rewritten"
		edited.Tracking = append(edited.Tracking, orders.TrackingEntry{Status: "Shipped", Description: "Order marked as Shipped", At: time.Now().UTC()})
		edited.Status = orders.StatusShipped
		return tx.Orders().Update(ctx, edited)
	})
	require.NoError(t, err)

	require.NoError(t, s.ReadOnly(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		got, err := tx.Orders().FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusShipped, got.Status)
		require.Len(t, got.Tracking, 3)
		assert.Equal(t, "We received your order", got.Tracking[0].Description)
		return nil
	}))
}

func TestList_NewestFirst(t *testing.T) {
	s := New()
	older := newOrder(t, "6006")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := newOrder(t, "7007")
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		if err := tx.Orders().Insert(ctx, older); err != nil {
			return err
		}
		return tx.Orders().Insert(ctx, newer)
	}))

	require.NoError(t, s.ReadOnly(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		list, err := tx.Orders().List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "7007", list[0].Number)
		assert.Equal(t, "6006", list[1].Number)
		return nil
	}))
}

func TestInTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.InTx(ctx, func(context.Context, orders.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestGetForUpdate_Unknown(t *testing.T) {
	s := New()
	err := s.ReadOnly(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		_, err := tx.Catalog().GetForUpdate(ctx, "missing")
		return err
	})
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}
