package orders

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

type ItemRequest struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

// LineDetail is a line item with the product name resolved, used by
// notifications.
type LineDetail struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"total"`
}

type Reservation struct {
	Items   []LineItem
	Details []LineDetail
	Total   decimal.Decimal
}

// Reserve checks and decrements stock for every requested line inside tx.
// Products are locked once each in id order so two carts touching the same
// products in different order cannot deadlock. Lines for the same product
// draw from the same remaining stock. Nothing is saved unless every line
// fits, and the caller rolls tx back on error.
func Reserve(ctx context.Context, tx Tx, items []ItemRequest) (Reservation, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	sort.Strings(ids)

	locked := make(map[string]*Product, len(ids))
	for _, id := range ids {
		p, err := tx.Catalog().GetForUpdate(ctx, id)
		if err != nil {
			return Reservation{}, err
		}
		locked[id] = p
	}

	remaining := make(map[string]int, len(locked))
	for id, p := range locked {
		remaining[id] = p.Stock
	}

	res := Reservation{
		Items:   make([]LineItem, 0, len(items)),
		Details: make([]LineDetail, 0, len(items)),
		Total:   decimal.Zero,
	}
	for _, it := range items {
		p := locked[it.ProductID]
		if !p.Active {
			return Reservation{}, ErrProductUnavailable
		}
		if it.Qty > remaining[p.ID] {
			return Reservation{}, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   it.Qty,
				Available:   remaining[p.ID],
			}
		}
		remaining[p.ID] -= it.Qty

		li := LineItem{ProductID: p.ID, Qty: it.Qty, UnitPrice: p.Price}
		res.Items = append(res.Items, li)
		res.Details = append(res.Details, LineDetail{
			ProductID: p.ID,
			Name:      p.Name,
			Qty:       it.Qty,
			UnitPrice: p.Price,
			Subtotal:  li.Subtotal(),
		})
		res.Total = res.Total.Add(li.Subtotal())
	}

	for _, id := range ids {
		p := locked[id]
		p.Stock = remaining[id]
		if err := tx.Catalog().Save(ctx, p); err != nil {
			return Reservation{}, err
		}
	}
	return res, nil
}
