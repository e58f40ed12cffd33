package orders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Notifier receives committed orders. It is best-effort: errors are logged
// and never reach the caller of PlaceOrder.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, o *Order, details []LineDetail) error
}

const (
	defaultNotifyTimeout = 5 * time.Second
	// placement is re-run when the unique constraint on the order number
	// fires at insert time.
	placementRuns = 3
)

type PlaceOrderInput struct {
	CustomerName  string        `json:"customerName"`
	Phone         string        `json:"phone"`
	PaymentMethod string        `json:"paymentMethod"`
	Items         []ItemRequest `json:"items"`
}

// Validate rejects malformed input before any store access.
func (in PlaceOrderInput) Validate() (PaymentMethod, error) {
	if strings.TrimSpace(in.CustomerName) == "" {
		return "", &ValidationError{Field: "customerName", Reason: "is required"}
	}
	if hasControl(in.CustomerName) {
		return "", &ValidationError{Field: "customerName", Reason: "must not contain control characters"}
	}
	if strings.TrimSpace(in.Phone) == "" {
		return "", &ValidationError{Field: "phone", Reason: "is required"}
	}
	if hasControl(in.Phone) {
		return "", &ValidationError{Field: "phone", Reason: "must not contain control characters"}
	}
	method, err := ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return "", err
	}
	if len(in.Items) == 0 {
		return "", &ValidationError{Field: "items", Reason: "must contain at least 1 item"}
	}
	for _, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return "", &ValidationError{Field: "items.productId", Reason: "is required"}
		}
		if it.Qty < 1 {
			return "", &ValidationError{Field: "items.qty", Reason: "must be greater than or equal to 1"}
		}
	}
	return method, nil
}

// Both fields end up in mail headers and admin views.
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

type Receipt struct {
	OrderID      string          `json:"orderId"`
	OrderNumber  string          `json:"orderNumber"`
	Total        decimal.Decimal `json:"total"`
	Deposit      decimal.Decimal `json:"deposit"`
	BalanceDue   decimal.Decimal `json:"balanceDue"`
	Method       PaymentMethod   `json:"method"`
	Instructions string          `json:"instructions"`
}

// Service is the order lifecycle manager. Every operation runs as one unit
// of work on Store.
type Service struct {
	Store         UnitOfWork
	Allocator     *Allocator
	Notifier      Notifier
	Log           logrus.FieldLogger
	NotifyTimeout time.Duration
	Now           func() time.Time

	inflight sync.WaitGroup
}

func NewService(store UnitOfWork, notifier Notifier, log logrus.FieldLogger) *Service {
	return &Service{
		Store:         store,
		Allocator:     NewAllocator(),
		Notifier:      notifier,
		Log:           log,
		NotifyTimeout: defaultNotifyTimeout,
	}
}

var tracer = otel.Tracer("github.com/ariefcatur/bloom-orders/internal/orders")

func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Receipt, error) {
	method, err := in.Validate()
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "orders.place")
	defer span.End()
	span.SetAttributes(attribute.Int("order.lines", len(in.Items)))

	var (
		order   *Order
		details []LineDetail
	)
	for run := 1; ; run++ {
		err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			res, err := Reserve(ctx, tx, in.Items)
			if err != nil {
				return err
			}
			number, err := s.allocator().Allocate(ctx, tx.Orders())
			if err != nil {
				return err
			}
			o, err := NewOrder(number, strings.TrimSpace(in.CustomerName), strings.TrimSpace(in.Phone), method, res.Items, res.Total, s.now())
			if err != nil {
				return err
			}
			if err := tx.Orders().Insert(ctx, o); err != nil {
				return err
			}
			order, details = o, res.Details
			return nil
		})
		if errors.Is(err, ErrDuplicateOrderNumber) && run < placementRuns {
			s.logger().WithField("run", run).Warn("order number taken at insert, retrying placement")
			continue
		}
		break
	}
	if err != nil {
		recordErr(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.number", order.Number))
	s.logger().WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"total":        order.Total.StringFixed(2),
	}).Info("order placed")

	s.dispatch(ctx, order, details)

	return &Receipt{
		OrderID:      order.ID,
		OrderNumber:  order.Number,
		Total:        order.Total,
		Deposit:      order.Payment.Deposit,
		BalanceDue:   order.Payment.BalanceDue,
		Method:       order.Payment.Method,
		Instructions: paymentInstructions(order.Payment.Method, order.Payment.Deposit),
	}, nil
}

// dispatch hands a committed order to the notifier outside the request
// path. Only the span context of parent is carried over, not its deadline.
// Failures are logged only.
func (s *Service) dispatch(parent context.Context, o *Order, details []LineDetail) {
	if s.Notifier == nil {
		return
	}
	timeout := s.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	snapshot := o.Clone()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(parent))
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		log := s.logger().WithFields(logrus.Fields{"notify": "new_order", "order_number": snapshot.Number})
		if err := s.Notifier.NotifyNewOrder(ctx, snapshot, details); err != nil {
			log.WithError(err).Error("failed to send new order notification")
			return
		}
		log.Debug("new order notification sent")
	}()
}

// Wait blocks until every in-flight notification has finished.
func (s *Service) Wait() { s.inflight.Wait() }

func (s *Service) UpdateStatus(ctx context.Context, orderID, raw string) (*Order, error) {
	status, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, "orders.update_status", orderID, func(o *Order, now time.Time) error {
		if !CanTransition(o.Status, status) {
			return ErrStatusTransition
		}
		o.Status = status
		o.track(string(status), "Order marked as "+string(status), now)
		return nil
	})
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, orderID, raw string) (*Order, error) {
	ps, err := ParsePaymentStatus(raw)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, "orders.update_payment_status", orderID, func(o *Order, now time.Time) error {
		if o.Payment.Status.Terminal() {
			return ErrPaymentTransition
		}
		o.Payment.Status = ps
		o.track("Payment "+string(ps), "Payment status updated to "+string(ps), now)
		return nil
	})
}

// ConfirmPayment settles a pending deposit. A failed payment cancels the
// order; both outcomes append exactly one tracking entry.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, success bool, transactionRef string) (*Order, error) {
	return s.mutate(ctx, "orders.confirm_payment", orderID, func(o *Order, now time.Time) error {
		if o.Payment.Status.Terminal() {
			return ErrPaymentTransition
		}
		if o.Status.Terminal() {
			return ErrStatusTransition
		}
		if !success {
			o.Payment.Status = PaymentFailed
			o.Status = StatusCancelled
			o.track("Payment Failed", "Payment was not received, order cancelled", now)
			return nil
		}
		o.Payment.Status = PaymentPaid
		o.Payment.TransactionRef = strings.TrimSpace(transactionRef)
		// a shipped order keeps its status; confirmation never moves it back
		if CanTransition(o.Status, StatusProcessing) {
			o.Status = StatusProcessing
		}
		o.track("Payment Confirmed", "Payment received successfully", now)
		return nil
	})
}

// mutate loads, changes and persists one order inside a single unit so a
// concurrent transition cannot lose a tracking entry.
func (s *Service) mutate(ctx context.Context, op, orderID string, change func(o *Order, now time.Time) error) (*Order, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var out *Order
	err := s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := change(o, s.now()); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	s.logger().WithFields(logrus.Fields{
		"op":             op,
		"order_number":   out.Number,
		"status":         out.Status,
		"payment_status": out.Payment.Status,
	}).Info("order updated")
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out *Order
	err := s.Store.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().FindByID(ctx, orderID)
		out = o
		return err
	})
	return out, err
}

// TrackOrder looks an order up by its public number; the phone must match
// as well.
func (s *Service) TrackOrder(ctx context.Context, number, phone string) (*Order, error) {
	var out *Order
	err := s.Store.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().FindByNumber(ctx, strings.TrimSpace(number))
		if err != nil {
			return err
		}
		if o == nil || o.Phone != strings.TrimSpace(phone) {
			return ErrOrderNotFound
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	var out []Order
	err := s.Store.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		list, err := tx.Orders().List(ctx)
		out = list
		return err
	})
	return out, err
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	err := s.Store.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		ps, err := tx.Catalog().List(ctx, true)
		out = ps
		return err
	})
	return out, err
}

func (s *Service) allocator() *Allocator {
	if s.Allocator == nil {
		return NewAllocator()
	}
	return s.Allocator
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
