package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateDocumentInput is the boundary payload for creating a requisition,
// agreement or purchase order. Total is free-form text from the caller: if
// absent or non-numeric the header total falls back to the line sum.
type CreateDocumentInput struct {
	Kind           DocKind     `validate:"required"`
	Number         string      `validate:"omitempty,max=64"`
	CounterpartyID int64       `validate:"required,gt=0"`
	CurrencyCode   string      `validate:"required,currency_code"`
	ExchangeRate   string      `validate:"omitempty"`
	Total          string      `validate:"omitempty"`
	Lines          []LineInput `validate:"required,min=1,dive"`
}

// LineInput is one submitted document line.
type LineInput struct {
	ItemID     int64           `validate:"required,gt=0"`
	ItemCode   string          `validate:"required,max=64"`
	Quantity   decimal.Decimal `validate:"required"`
	UnitPrice  decimal.Decimal `validate:"required"`
	TaxRate    decimal.Decimal `validate:"omitempty"`
	PacketHint int64           `validate:"omitempty,gte=0"`
}

// UpdateDocumentInput replaces header fields and the full line set.
type UpdateDocumentInput struct {
	CurrencyCode string      `validate:"omitempty,currency_code"`
	ExchangeRate string      `validate:"omitempty"`
	Total        string      `validate:"omitempty"`
	Lines        []LineInput `validate:"required,min=1,dive"`
}

// UpdateStatusInput is the status-only PATCH payload. Exactly one of Status
// or ApprovalStatus is expected.
type UpdateStatusInput struct {
	Status         DocStatus
	ApprovalStatus ApprovalStatus
}

// ReceiptLineInput reports delivered quantities against one PO line.
type ReceiptLineInput struct {
	POLineID         int64           `validate:"required,gt=0"`
	QuantityReceived decimal.Decimal `validate:"required"`
	QuantityAccepted decimal.Decimal `validate:"omitempty"`
	QuantityRejected decimal.Decimal `validate:"omitempty"`
}

// CreateReceiptInput is the boundary payload for a goods receipt.
type CreateReceiptInput struct {
	POID       int64              `validate:"required,gt=0"`
	Number     string             `validate:"omitempty,max=64"`
	ReceivedAt time.Time          `validate:"omitempty"`
	Lines      []ReceiptLineInput `validate:"required,min=1,dive"`
}

// ListFilter narrows document listings. Results are ordered by creation
// descending; lines by line_number ascending.
type ListFilter struct {
	Kind           DocKind
	Status         DocStatus
	CounterpartyID int64
	From           time.Time
	To             time.Time
	Search         string
	Limit          int
	Offset         int
}
