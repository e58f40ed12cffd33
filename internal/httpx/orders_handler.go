package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/bloom-orders/internal/orders"
)

// OrderService is the part of orders.Service the handlers call.
type OrderService interface {
	PlaceOrder(ctx context.Context, in orders.PlaceOrderInput) (*orders.Receipt, error)
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	TrackOrder(ctx context.Context, number, phone string) (*orders.Order, error)
	ListOrders(ctx context.Context) ([]orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
	UpdateStatus(ctx context.Context, orderID, status string) (*orders.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID, status string) (*orders.Order, error)
	ConfirmPayment(ctx context.Context, orderID string, success bool, transactionRef string) (*orders.Order, error)
}

// Cache is optional; a nil Cache disables track caching and idempotency keys.
type Cache interface {
	TrackedOrder(ctx context.Context, number string) ([]byte, bool, error)
	// version is len(order.Tracking); it only grows.
	SetTrackedOrder(ctx context.Context, number string, version int, body []byte) error
	InvalidateOrder(ctx context.Context, number string, version int) error
	ClaimIdempotency(ctx context.Context, key string) ([]byte, bool, error)
	StoreIdempotent(ctx context.Context, key string, response []byte) error
	ReleaseIdempotency(ctx context.Context, key string) error
}

type OrdersHandler struct {
	Orders OrderService
	Cache  Cache
	Auth   Auth
	Log    logrus.FieldLogger
}

type paymentInfo struct {
	Method       orders.PaymentMethod `json:"method"`
	Instructions string               `json:"instructions"`
}

type placeOrderResp struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Total       decimal.Decimal `json:"total"`
	Deposit     decimal.Decimal `json:"deposit"`
	BalanceDue  decimal.Decimal `json:"balanceDue"`
	Payment     paymentInfo     `json:"payment"`
}

type statusReq struct {
	Status string `json:"status"`
}

type paymentStatusReq struct {
	PaymentStatus string `json:"paymentStatus"`
}

type confirmPaymentReq struct {
	OrderID        string `json:"orderId"`
	Success        bool   `json:"success"`
	TransactionRef string `json:"transactionRef"`
}

const headerIdempotencyKey = "Idempotency-Key"

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Post("/orders", h.placeOrder)
		r.Get("/orders/track", h.trackOrder)
		r.Get("/orders/{id}", h.getOrder)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireAdmin)
			r.Get("/orders", h.listOrders)
			r.Patch("/orders/{id}/status", h.updateStatus)
			r.Patch("/orders/{id}/payment-status", h.updatePaymentStatus)
			r.Post("/payments/confirm", h.confirmPayment)
		})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

// fail maps domain errors onto status codes. Anything unrecognised is
// logged and hidden behind a generic message.
func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *orders.ValidationError
		se *orders.InsufficientStockError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &se):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrProductNotFound),
		errors.Is(err, orders.ErrProductUnavailable),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrInvalidPaymentStatus),
		errors.Is(err, orders.ErrStatusTransition),
		errors.Is(err, orders.ErrPaymentTransition):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	default:
		h.Log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Something went wrong!")
	}
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Orders.ListProducts(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceOrderInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	claimed := false
	if key != "" && h.Cache != nil {
		stored, ok, err := h.Cache.ClaimIdempotency(ctx, key)
		switch {
		case err != nil:
			h.Log.WithError(err).Warn("idempotency lookup failed, placing without it")
		case stored != nil:
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(stored)
			return
		case !ok:
			writeError(w, http.StatusConflict, "A request with this Idempotency-Key is already in progress")
			return
		default:
			claimed = true
		}
	}

	rc, err := h.Orders.PlaceOrder(ctx, req)
	if err != nil {
		if claimed {
			_ = h.Cache.ReleaseIdempotency(context.WithoutCancel(ctx), key)
		}
		h.fail(w, r, err)
		return
	}

	body, _ := json.Marshal(placeOrderResp{
		OrderID:     rc.OrderID,
		OrderNumber: rc.OrderNumber,
		Total:       rc.Total,
		Deposit:     rc.Deposit,
		BalanceDue:  rc.BalanceDue,
		Payment:     paymentInfo{Method: rc.Method, Instructions: rc.Instructions},
	})
	if claimed {
		if err := h.Cache.StoreIdempotent(ctx, key, body); err != nil {
			h.Log.WithError(err).WithField("order_number", rc.OrderNumber).Warn("failed to store idempotent response")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *OrdersHandler) trackOrder(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(r.URL.Query().Get("orderNumber"))
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if number == "" || phone == "" {
		writeError(w, http.StatusBadRequest, "orderNumber and phone are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if b, ok, err := h.Cache.TrackedOrder(ctx, number); err == nil && ok {
			var cached orders.Order
			if json.Unmarshal(b, &cached) == nil && cached.Phone == phone {
				writeJSON(w, http.StatusOK, json.RawMessage(b))
				return
			}
		}
	}

	o, err := h.Orders.TrackOrder(ctx, number, phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, _ := json.Marshal(o)
	if h.Cache != nil {
		_ = h.Cache.SetTrackedOrder(ctx, o.Number, len(o.Tracking), b)
	}
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	h.afterTransition(w, r, o, err)
}

func (h *OrdersHandler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	o, err := h.Orders.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), req.PaymentStatus)
	h.afterTransition(w, r, o, err)
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}
	o, err := h.Orders.ConfirmPayment(r.Context(), req.OrderID, req.Success, req.TransactionRef)
	h.afterTransition(w, r, o, err)
}

// afterTransition drops the cached track view so the next lookup sees the
// new history.
func (h *OrdersHandler) afterTransition(w http.ResponseWriter, r *http.Request, o *orders.Order, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.InvalidateOrder(r.Context(), o.Number, len(o.Tracking)); err != nil {
			h.Log.WithError(err).WithField("order_number", o.Number).Warn("track cache invalidation failed")
		}
	}
	writeJSON(w, http.StatusOK, o)
}
