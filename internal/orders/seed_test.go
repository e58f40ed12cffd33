package orders_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/bloom-orders/internal/memstore"
	"github.com/ariefcatur/bloom-orders/internal/orders"
)

func seed(t *testing.T, store *memstore.Store) []*orders.Product {
	t.Helper()
	var added []*orders.Product
	require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		var err error
		added, err = orders.SeedCatalog(ctx, tx, orders.StarterCatalog())
		return err
	}))
	return added
}

func TestSeedCatalog_RunsOnce(t *testing.T) {
	store := memstore.New()
	svc := orders.NewService(store, nil, quietLogger())

	assert.Len(t, seed(t, store), 10)
	assert.Empty(t, seed(t, store), "second run adds nothing")

	ps, err := svc.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, ps, 10)
}

func TestSeedCatalog_KeepsExistingProducts(t *testing.T) {
	store := memstore.New()
	mine := addProduct(t, store, "paper sunflower ", "45", 3)

	added := seed(t, store)
	assert.Len(t, added, 9)
	for _, p := range added {
		assert.NotEqual(t, "Paper Sunflower", p.Name)
	}
	assert.Equal(t, 3, stockOf(t, store, mine.ID))
}
