package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventOrderPlaced = "OrderPlaced"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as a version 1 event.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

type OrderPlacedPayload struct {
	OrderID      string          `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	CustomerName string          `json:"customer_name"`
	Phone        string          `json:"phone"`
	Items        []LineDetail    `json:"items"`
	Total        decimal.Decimal `json:"total"`
	Method       PaymentMethod   `json:"payment_method"`
	PaymentState PaymentStatus   `json:"payment_status"`
	Deposit      decimal.Decimal `json:"deposit"`
	BalanceDue   decimal.Decimal `json:"balance_due"`
	PlacedAt     time.Time       `json:"placed_at"`
}

func NewOrderPlacedPayload(o *Order, details []LineDetail) OrderPlacedPayload {
	return OrderPlacedPayload{
		OrderID:      o.ID,
		OrderNumber:  o.Number,
		CustomerName: o.CustomerName,
		Phone:        o.Phone,
		Items:        details,
		Total:        o.Total,
		Method:       o.Payment.Method,
		PaymentState: o.Payment.Status,
		Deposit:      o.Payment.Deposit,
		BalanceDue:   o.Payment.BalanceDue,
		PlacedAt:     o.CreatedAt,
	}
}
