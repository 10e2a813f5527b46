package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateInvoiceInput is the boundary payload for an AP or AR invoice.
type CreateInvoiceInput struct {
	Direction      Direction       `validate:"required"`
	Number         string          `validate:"omitempty,max=64"`
	CounterpartyID int64           `validate:"required,gt=0"`
	CurrencyCode   string          `validate:"required,currency_code"`
	TotalAmount    decimal.Decimal `validate:"required"`
	IssuedAt       time.Time       `validate:"omitempty"`
	DueAt          time.Time       `validate:"omitempty"`
}

// ApplicationInput allocates an amount against one invoice.
type ApplicationInput struct {
	InvoiceID int64           `validate:"required,gt=0"`
	Amount    decimal.Decimal `validate:"required"`
}

// CreatePaymentInput is the boundary payload for a payment or receipt.
// Commit false creates a DRAFT whose applications reserve intent without
// touching invoice balances.
type CreatePaymentInput struct {
	Direction      Direction          `validate:"required"`
	Number         string             `validate:"omitempty,max=64"`
	CounterpartyID int64              `validate:"required,gt=0"`
	PaymentAmount  decimal.Decimal    `validate:"required"`
	PaidAt         time.Time          `validate:"omitempty"`
	Method         string             `validate:"omitempty,max=32"`
	Note           string             `validate:"omitempty,max=500"`
	Commit         bool
	Applications   []ApplicationInput `validate:"omitempty,dive"`
}

// ListPaymentsFilter narrows payment listings.
type ListPaymentsFilter struct {
	Direction      Direction
	Status         PaymentStatus
	CounterpartyID int64
	From           time.Time
	To             time.Time
	Search         string
	Limit          int
	Offset         int
}
