package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DocKind discriminates the three procurement document shapes that share
// one header layout.
type DocKind string

const (
	KindRequisition   DocKind = "REQUISITION"
	KindAgreement     DocKind = "AGREEMENT"
	KindPurchaseOrder DocKind = "PURCHASE_ORDER"
)

// DocStatus is the document lifecycle state.
type DocStatus string

const (
	StatusDraft     DocStatus = "DRAFT"
	StatusReleased  DocStatus = "RELEASED"
	StatusReceived  DocStatus = "RECEIVED"
	StatusClosed    DocStatus = "CLOSED"
	StatusCancelled DocStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s DocStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// ApprovalStatus tracks the approval sub-state of a document.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
)

// ReceiptStatus is the goods receipt lifecycle state.
type ReceiptStatus string

const (
	ReceiptActive    ReceiptStatus = "ACTIVE"
	ReceiptCancelled ReceiptStatus = "CANCELLED"
)

// Document is a procurement header (requisition, agreement or purchase
// order). total_amount = subtotal + tax_amount, both derived from lines and
// rounded to 2 decimals.
type Document struct {
	ID             int64
	Kind           DocKind
	Number         string
	CounterpartyID int64
	CurrencyCode   string
	ExchangeRate   decimal.Decimal
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	ReceivedAmount decimal.Decimal
	Status         DocStatus
	ApprovalStatus ApprovalStatus
	ApprovedBy     *int64
	ApprovedAt     *time.Time
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Line is one ordered document line; line numbers are 1-based and
// contiguous in submission order.
type Line struct {
	ID         int64
	DocumentID int64
	LineNumber int
	ItemID     int64
	ItemCode   string
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	LineAmount decimal.Decimal
	TaxRate    decimal.Decimal
	TaxAmount  decimal.Decimal
	PacketHint int64
}

// GoodsReceipt records deliveries against a purchase order.
type GoodsReceipt struct {
	ID          int64
	Number      string
	POID        int64
	Status      ReceiptStatus
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
	ReceivedAt  time.Time
	CreatedBy   int64
	CreatedAt   time.Time
}

// ReceiptLine references a purchase-order line. Cumulatively across all
// receipts for that line, accepted + rejected <= received <= ordered.
type ReceiptLine struct {
	ID               int64
	ReceiptID        int64
	POLineID         int64
	ItemID           int64
	ItemCode         string
	QuantityOrdered  decimal.Decimal
	QuantityReceived decimal.Decimal
	QuantityAccepted decimal.Decimal
	QuantityRejected decimal.Decimal
	UnitPrice        decimal.Decimal
	LineAmount       decimal.Decimal
	TaxAmount        decimal.Decimal
	PacketHint       int64
}

// LineReceiptSum aggregates prior receipt quantities for one PO line.
type LineReceiptSum struct {
	Received decimal.Decimal
	Accepted decimal.Decimal
	Rejected decimal.Decimal
}

var (
	// ErrInvalidStatus rejects a status value outside the enumerated set.
	ErrInvalidStatus = shared.Validationf("invalid status value")
	// ErrDocumentNotFound indicates a missing document.
	ErrDocumentNotFound = shared.NotFoundf("procurement document not found")
	// ErrReceiptNotFound indicates a missing goods receipt.
	ErrReceiptNotFound = shared.NotFoundf("goods receipt not found")
	// ErrCounterpartyNotFound indicates a missing counterparty reference.
	ErrCounterpartyNotFound = shared.NotFoundf("counterparty not found")
	// ErrTerminalStatus rejects mutation of a closed or cancelled document.
	ErrTerminalStatus = shared.Conflictf("document is in a terminal status")
	// ErrReceiptExceedsOrder rejects receipt quantities beyond the order.
	ErrReceiptExceedsOrder = shared.Conflictf("receipt quantities exceed ordered quantity")
)

// docStatuses is the enumerated set accepted by status updates.
var docStatuses = []DocStatus{StatusDraft, StatusReleased, StatusReceived, StatusClosed, StatusCancelled}

// ValidDocStatus reports membership in the enumerated status set.
func ValidDocStatus(s DocStatus) bool {
	for _, v := range docStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ValidApprovalStatus reports membership in the approval status set.
func ValidApprovalStatus(s ApprovalStatus) bool {
	return s == ApprovalPending || s == ApprovalApproved
}

// ValidKind reports membership in the document kind set.
func ValidKind(k DocKind) bool {
	return k == KindRequisition || k == KindAgreement || k == KindPurchaseOrder
}
