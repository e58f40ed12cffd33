package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryBouquet      Category = "Bouquet"
	CategoryDecorations  Category = "Decorations"
	CategorySingleFlower Category = "Single Flower"
	CategoryArrangements Category = "Arrangements"
	CategorySet          Category = "Set"
)

var categories = map[Category]bool{
	CategoryBouquet:      true,
	CategoryDecorations:  true,
	CategorySingleFlower: true,
	CategoryArrangements: true,
	CategorySet:          true,
}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !categories[c] {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    Category        `json:"category"`
	Stock       int             `json:"stock"`
	Image       string          `json:"image"`
	Active      bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewProduct builds an active catalog entry.
func NewProduct(name string, price decimal.Decimal, category Category, stock int) (*Product, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "is required"}
	}
	if price.IsNegative() {
		return nil, &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if stock < 0 {
		return nil, &ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	if !categories[category] {
		return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}
	now := time.Now().UTC()
	return &Product{
		ID:        uuid.NewString(),
		Name:      name,
		Price:     price,
		Category:  category,
		Stock:     stock,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// LineItem keeps the unit price captured when the order was placed; later
// catalog price changes never touch it.
type LineItem struct {
	ProductID string          `json:"productId"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"price"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

type TrackingEntry struct {
	Status      string    `json:"status"`
	Description string    `json:"description"`
	At          time.Time `json:"date"`
}

type Order struct {
	ID           string          `json:"id"`
	Number       string          `json:"orderNumber"`
	CustomerName string          `json:"customerName"`
	Phone        string          `json:"phone"`
	Items        []LineItem      `json:"items"`
	Total        decimal.Decimal `json:"total"`
	Payment      Payment         `json:"payment"`
	Status       Status          `json:"status"`
	Tracking     []TrackingEntry `json:"tracking"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewOrder seeds a freshly placed order: Processing, payment Pending and the
// two opening tracking entries.
func NewOrder(number, customerName, phone string, method PaymentMethod, items []LineItem, total decimal.Decimal, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	payment, err := NewPayment(method, total)
	if err != nil {
		return nil, err
	}
	o := &Order{
		ID:           uuid.NewString(),
		Number:       number,
		CustomerName: customerName,
		Phone:        phone,
		Items:        append([]LineItem(nil), items...),
		Total:        total,
		Payment:      payment,
		Status:       StatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	o.track("Order Placed", "We received your order", now)
	o.track(string(StatusProcessing), "Preparing your flowers", now)
	return o, nil
}

// track is the only way entries are added; the timestamp never goes
// backwards relative to the previous entry.
func (o *Order) track(status, description string, now time.Time) {
	if n := len(o.Tracking); n > 0 && now.Before(o.Tracking[n-1].At) {
		now = o.Tracking[n-1].At
	}
	o.Tracking = append(o.Tracking, TrackingEntry{Status: status, Description: description, At: now})
	o.UpdatedAt = now
}

// Clone returns a deep copy so stores never share slices with callers.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.Tracking = append([]TrackingEntry(nil), o.Tracking...)
	return &c
}
