package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Direction selects which side of the ledger a settlement works:
// payables settle supplier invoices with payments, receivables settle
// customer invoices with receipts. One engine serves both.
type Direction string

const (
	DirectionPayable    Direction = "PAYABLE"
	DirectionReceivable Direction = "RECEIVABLE"
)

// Valid reports membership in the direction set.
func (d Direction) Valid() bool {
	return d == DirectionPayable || d == DirectionReceivable
}

// InvoiceDocType returns the numbering document type for invoices.
func (d Direction) InvoiceDocType() string {
	if d == DirectionPayable {
		return "AP_INVOICE"
	}
	return "AR_INVOICE"
}

// PaymentDocType returns the numbering document type for payments.
func (d Direction) PaymentDocType() string {
	if d == DirectionPayable {
		return "AP_PAYMENT"
	}
	return "AR_RECEIPT"
}

// CommittedStatus is the funds-committed payment status for the
// direction: supplier payments go PAID, customer receipts go ACTIVE.
func (d Direction) CommittedStatus() PaymentStatus {
	if d == DirectionPayable {
		return PaymentPaid
	}
	return PaymentActive
}

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceOpen      InvoiceStatus = "OPEN"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
	InvoiceVoid      InvoiceStatus = "VOID"
)

// Settleable reports whether applications may commit against the invoice.
// DRAFT, CANCELLED and VOID invoices never accept funds and their status
// is never overridden by balance changes.
func (s InvoiceStatus) Settleable() bool {
	return s == InvoiceOpen || s == InvoicePaid
}

// PaymentStatus is the payment/receipt lifecycle state. There is no
// CANCELLED: soft-deleting a payment demotes it to DRAFT, releasing its
// funds while preserving the row.
type PaymentStatus string

const (
	PaymentDraft  PaymentStatus = "DRAFT"
	PaymentPaid   PaymentStatus = "PAID"
	PaymentActive PaymentStatus = "ACTIVE"
)

// Committed reports whether the payment's funds are committed to invoices.
func (s PaymentStatus) Committed() bool {
	return s == PaymentPaid || s == PaymentActive
}

// ApplicationStatus marks one allocation row.
type ApplicationStatus string

const (
	ApplicationActive   ApplicationStatus = "ACTIVE"
	ApplicationReversed ApplicationStatus = "REVERSED"
)

// PaidTolerance is the threshold under which a remaining due is treated
// as fully settled.
var PaidTolerance = decimal.New(1, -2)

// Invoice is an AP or AR invoice. AmountPaid accumulates committed
// applications; amount due is always recomputed from TotalAmount and
// AmountPaid, never read from a stored derived column.
type Invoice struct {
	ID             int64
	Direction      Direction
	Number         string
	CounterpartyID int64
	CurrencyCode   string
	TotalAmount    decimal.Decimal
	AmountPaid     decimal.Decimal
	Status         InvoiceStatus
	IssuedAt       time.Time
	DueAt          time.Time
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AmountDue returns total minus paid.
func (i Invoice) AmountDue() decimal.Decimal {
	return i.TotalAmount.Sub(i.AmountPaid)
}

// Payment is a supplier payment or customer receipt. AmountApplied
// accumulates its ACTIVE application amounts.
type Payment struct {
	ID             int64
	Direction      Direction
	Number         string
	CounterpartyID int64
	PaymentAmount  decimal.Decimal
	AmountApplied  decimal.Decimal
	Status         PaymentStatus
	PaidAt         time.Time
	Method         string
	Note           string
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UnappliedAmount returns the funds not yet allocated to any invoice.
func (p Payment) UnappliedAmount() decimal.Decimal {
	return p.PaymentAmount.Sub(p.AmountApplied)
}

// Application allocates part of a payment's funds to one invoice.
// UnappliedAmount snapshots the invoice's remaining due after this
// application; it is informational, never authoritative.
type Application struct {
	ID              int64
	PaymentID       int64
	InvoiceID       int64
	AppliedAmount   decimal.Decimal
	UnappliedAmount decimal.Decimal
	AppliedAt       time.Time
	Status          ApplicationStatus
}

// AgingBuckets groups outstanding invoice balances by days overdue.
type AgingBuckets struct {
	Current    decimal.Decimal
	Days30     decimal.Decimal
	Days60     decimal.Decimal
	Days90     decimal.Decimal
	Days120    decimal.Decimal
	Over120    decimal.Decimal
	Total      decimal.Decimal
	AsOf       time.Time
	InvoiceIDs []int64
}

var (
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = shared.NotFoundf("invoice not found")
	// ErrPaymentNotFound indicates a missing payment or receipt.
	ErrPaymentNotFound = shared.NotFoundf("payment not found")
	// ErrApplicationNotFound indicates a missing application row.
	ErrApplicationNotFound = shared.NotFoundf("payment application not found")
	// ErrOverApplication rejects an amount beyond the invoice due or the
	// payment's remaining funds.
	ErrOverApplication = shared.Conflictf("application exceeds invoice due or available funds")
	// ErrCannotModifyCommitted rejects edits to a committed payment.
	ErrCannotModifyCommitted = shared.Conflictf("payment is committed and cannot be modified")
	// ErrHasActiveApplications blocks deleting a payment that still funds
	// invoices.
	ErrHasActiveApplications = shared.Conflictf("payment has active applications")
	// ErrInvalidStatus rejects a status value outside the enumerated set.
	ErrInvalidStatus = shared.Validationf("invalid status value")
	// ErrNotSettleable rejects applications against a draft, cancelled or
	// void invoice.
	ErrNotSettleable = shared.Conflictf("invoice does not accept applications")
)

// deriveInvoiceStatus recomputes an invoice status from its balance.
// Non-settleable statuses pass through untouched.
func deriveInvoiceStatus(current InvoiceStatus, total, paid decimal.Decimal) InvoiceStatus {
	if !current.Settleable() {
		return current
	}
	if total.Sub(paid).LessThanOrEqual(PaidTolerance) {
		return InvoicePaid
	}
	return InvoiceOpen
}
