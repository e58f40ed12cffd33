// Package memstore keeps catalog and orders in process memory. A read-write
// transaction holds the store's write lock from start to finish, so units
// are serializable; writes live in a per-transaction overlay that is merged
// on commit and dropped on rollback.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/bloom-orders/internal/orders"
)

type Store struct {
	mu       sync.RWMutex
	products map[string]*orders.Product
	orders   map[string]*orders.Order
	byNumber map[string]string

	// BeforeInsert, when set, runs ahead of every order insert. Returning an
	// error aborts the insert the way a rejected write would.
	BeforeInsert func(o *orders.Order) error
}

func New() *Store {
	return &Store{
		products: make(map[string]*orders.Product),
		orders:   make(map[string]*orders.Order),
		byNumber: make(map[string]string),
	}
}

// AddProducts stores products outside of any transaction.
func (s *Store) AddProducts(ps ...*orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		cp := *p
		s.products[p.ID] = &cp
	}
}

// Product returns the committed state of one product.
func (s *Store) Product(id string) (orders.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, false
	}
	return *p, true
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

// ReadOnly shares the lock with other readers; anything written through tx
// is discarded.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, newTx(s))
}

type tx struct {
	s        *Store
	products map[string]*orders.Product
	orders   map[string]*orders.Order
	numbers  map[string]string
}

func newTx(s *Store) *tx {
	return &tx{
		s:        s,
		products: make(map[string]*orders.Product),
		orders:   make(map[string]*orders.Order),
		numbers:  make(map[string]string),
	}
}

func (t *tx) Catalog() orders.CatalogStore { return catalog{t} }
func (t *tx) Orders() orders.OrderStore    { return orderStore{t} }

func (t *tx) commit() {
	for id, p := range t.products {
		t.s.products[id] = p
	}
	for id, o := range t.orders {
		t.s.orders[id] = o
	}
	for n, id := range t.numbers {
		t.s.byNumber[n] = id
	}
}

type catalog struct{ t *tx }

func (c catalog) GetForUpdate(ctx context.Context, id string) (*orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p, ok := c.t.products[id]; ok {
		cp := *p
		return &cp, nil
	}
	p, ok := c.t.s.products[id]
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (c catalog) Save(ctx context.Context, p *orders.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Stock < 0 {
		return &orders.PersistenceError{Op: "save product", Err: fmt.Errorf("stock of %s would be negative", p.ID)}
	}
	cp := *p
	c.t.products[p.ID] = &cp
	return nil
}

func (c catalog) List(ctx context.Context, activeOnly bool) ([]orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged := make(map[string]*orders.Product, len(c.t.s.products))
	for id, p := range c.t.s.products {
		merged[id] = p
	}
	for id, p := range c.t.products {
		merged[id] = p
	}
	out := make([]orders.Product, 0, len(merged))
	for _, p := range merged {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type orderStore struct{ t *tx }

func (st orderStore) lookup(id string) (*orders.Order, bool) {
	if o, ok := st.t.orders[id]; ok {
		return o, true
	}
	o, ok := st.t.s.orders[id]
	return o, ok
}

func (st orderStore) FindByNumber(ctx context.Context, number string) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, ok := st.t.numbers[number]
	if !ok {
		id, ok = st.t.s.byNumber[number]
	}
	if !ok {
		return nil, nil
	}
	o, _ := st.lookup(id)
	return o.Clone(), nil
}

func (st orderStore) FindByID(ctx context.Context, id string) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, ok := st.lookup(id)
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (st orderStore) Insert(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := st.t.s.BeforeInsert; hook != nil {
		if err := hook(o); err != nil {
			return err
		}
	}
	if _, taken := st.t.numbers[o.Number]; taken {
		return orders.ErrDuplicateOrderNumber
	}
	if _, taken := st.t.s.byNumber[o.Number]; taken {
		return orders.ErrDuplicateOrderNumber
	}
	if _, exists := st.lookup(o.ID); exists {
		return &orders.PersistenceError{Op: "insert order", Err: fmt.Errorf("order %s already exists", o.ID)}
	}
	st.t.orders[o.ID] = o.Clone()
	st.t.numbers[o.Number] = o.ID
	return nil
}

func (st orderStore) Update(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok := st.lookup(o.ID)
	if !ok {
		return orders.ErrOrderNotFound
	}
	if len(o.Tracking) < len(current.Tracking) {
		return &orders.PersistenceError{Op: "update order", Err: fmt.Errorf("tracking history of %s would shrink", o.ID)}
	}
	next := current.Clone()
	next.Status = o.Status
	next.Payment = o.Payment
	next.UpdatedAt = o.UpdatedAt
	next.Tracking = append(next.Tracking, o.Tracking[len(current.Tracking):]...)
	st.t.orders[o.ID] = next
	return nil
}

func (st orderStore) List(ctx context.Context) ([]orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged := make(map[string]*orders.Order, len(st.t.s.orders))
	for id, o := range st.t.s.orders {
		merged[id] = o
	}
	for id, o := range st.t.orders {
		merged[id] = o
	}
	out := make([]orders.Order, 0, len(merged))
	for _, o := range merged {
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number > out[j].Number
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
