package orders

import "context"

// CatalogStore is the product side of a transaction.
type CatalogStore interface {
	// GetForUpdate returns the product and holds it for the rest of the
	// transaction. ErrProductNotFound when the id does not resolve.
	GetForUpdate(ctx context.Context, id string) (*Product, error)
	Save(ctx context.Context, p *Product) error
	List(ctx context.Context, activeOnly bool) ([]Product, error)
}

// OrderStore is the order side of a transaction.
type OrderStore interface {
	// FindByNumber returns (nil, nil) when no order carries the number.
	FindByNumber(ctx context.Context, number string) (*Order, error)
	// FindByID returns ErrOrderNotFound when absent; inside a read-write
	// transaction the order stays locked until commit.
	FindByID(ctx context.Context, id string) (*Order, error)
	// Insert fails with ErrDuplicateOrderNumber when the number clashes.
	Insert(ctx context.Context, o *Order) error
	// Update rewrites status and payment and appends tracking entries the
	// store has not seen yet. Existing entries are never rewritten.
	Update(ctx context.Context, o *Order) error
	// List returns every order, newest first.
	List(ctx context.Context) ([]Order, error)
}

type Tx interface {
	Catalog() CatalogStore
	Orders() OrderStore
}

// UnitOfWork runs fn inside one atomic unit: commit when fn returns nil,
// roll back otherwise.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
