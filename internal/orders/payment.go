package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodMPESA   PaymentMethod = "MPESA"
	MethodEcoCash PaymentMethod = "ECOCASH"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.TrimSpace(s)); m {
	case MethodMPESA, MethodEcoCash:
		return m, nil
	default:
		return "", &ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("must be one of %s, %s", MethodMPESA, MethodEcoCash)}
	}
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch ps := PaymentStatus(strings.TrimSpace(s)); ps {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return ps, nil
	default:
		return "", ErrInvalidPaymentStatus
	}
}

// Terminal reports whether the payment already settled one way or the other.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// DepositRate is the share of the total asked up front.
var DepositRate = decimal.RequireFromString("0.25")

type Payment struct {
	Method         PaymentMethod   `json:"method"`
	Status         PaymentStatus   `json:"status"`
	TransactionRef string          `json:"transactionRef,omitempty"`
	Deposit        decimal.Decimal `json:"depositAmount"`
	BalanceDue     decimal.Decimal `json:"balanceDue"`
}

// NewPayment splits total into deposit and balance. The balance is derived
// by subtraction so Deposit+BalanceDue always equals total.
func NewPayment(method PaymentMethod, total decimal.Decimal) (Payment, error) {
	if _, err := ParsePaymentMethod(string(method)); err != nil {
		return Payment{}, err
	}
	if total.IsNegative() {
		return Payment{}, &ValidationError{Field: "total", Reason: "must not be negative"}
	}
	deposit := total.Mul(DepositRate).Round(2)
	return Payment{
		Method:     method,
		Status:     PaymentPending,
		Deposit:    deposit,
		BalanceDue: total.Sub(deposit),
	}, nil
}

func paymentInstructions(method PaymentMethod, deposit decimal.Decimal) string {
	return fmt.Sprintf("Please send the 25%% deposit of M%s to our %s number.", deposit.StringFixed(2), method)
}
