package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// parseDecimal parses free-form caller text, falling back when absent or
// non-numeric.
func parseDecimal(text string, fallback decimal.Decimal) decimal.Decimal {
	if text == "" {
		return fallback
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return fallback
	}
	return d
}

func validateLines(lines []LineInput) error {
	for i, li := range lines {
		if !li.Quantity.IsPositive() {
			return shared.Validationf("line %d: quantity must be positive", i+1)
		}
		if li.UnitPrice.IsNegative() {
			return shared.Validationf("line %d: unit price must not be negative", i+1)
		}
		if li.TaxRate.IsNegative() {
			return shared.Validationf("line %d: tax rate must not be negative", i+1)
		}
	}
	return nil
}

// buildLines converts submitted lines, renumbering 1..N in submission order.
func buildLines(documentID int64, inputs []LineInput) []Line {
	lines := make([]Line, 0, len(inputs))
	for i, li := range inputs {
		amount := li.Quantity.Mul(li.UnitPrice).Round(2)
		tax := amount.Mul(li.TaxRate).Div(hundred).Round(2)
		lines = append(lines, Line{
			DocumentID: documentID,
			LineNumber: i + 1,
			ItemID:     li.ItemID,
			ItemCode:   li.ItemCode,
			Quantity:   li.Quantity,
			UnitPrice:  li.UnitPrice,
			LineAmount: amount,
			TaxRate:    li.TaxRate,
			TaxAmount:  tax,
			PacketHint: li.PacketHint,
		})
	}
	return lines
}

// computeTotals derives header amounts from lines. A parseable supplied
// total wins over the computed one; otherwise the line sum is the fallback.
func computeTotals(lines []Line, suppliedTotal string) (subtotal, tax, total decimal.Decimal) {
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineAmount)
		tax = tax.Add(l.TaxAmount)
	}
	subtotal = subtotal.Round(2)
	tax = tax.Round(2)
	total = subtotal.Add(tax)
	if suppliedTotal != "" {
		if d, err := decimal.NewFromString(suppliedTotal); err == nil {
			total = d.Round(2)
		}
	}
	return subtotal, tax, total
}

func linesByID(lines []Line) map[int64]Line {
	m := make(map[int64]Line, len(lines))
	for _, l := range lines {
		m[l.ID] = l
	}
	return m
}

func lineIDs(inputs []ReceiptLineInput) []int64 {
	ids := make([]int64, 0, len(inputs))
	for _, li := range inputs {
		ids = append(ids, li.POLineID)
	}
	return ids
}

func validateReceiptQuantities(li ReceiptLineInput) error {
	if !li.QuantityReceived.IsPositive() {
		return shared.Validationf("po line %d: received quantity must be positive", li.POLineID)
	}
	if li.QuantityAccepted.IsNegative() || li.QuantityRejected.IsNegative() {
		return shared.Validationf("po line %d: accepted/rejected must not be negative", li.POLineID)
	}
	if li.QuantityAccepted.Add(li.QuantityRejected).GreaterThan(li.QuantityReceived) {
		return shared.Validationf("po line %d: accepted + rejected exceeds received", li.POLineID)
	}
	return nil
}

// buildReceiptLines prices receipt lines from their PO lines and enforces
// the cumulative accepted + rejected <= received <= ordered invariant
// across all prior receipts for each PO line. A submission may carry the
// same PO line more than once; those lines count against each other, not
// just against prior receipts.
func buildReceiptLines(poLines map[int64]Line, prior map[int64]LineReceiptSum, inputs []ReceiptLineInput) ([]ReceiptLine, error) {
	lines := make([]ReceiptLine, 0, len(inputs))
	submitted := map[int64]LineReceiptSum{}
	for _, li := range inputs {
		pol := poLines[li.POLineID]
		sums := prior[li.POLineID]
		cur := submitted[li.POLineID]

		cumulativeReceived := sums.Received.Add(cur.Received).Add(li.QuantityReceived)
		if cumulativeReceived.GreaterThan(pol.Quantity) {
			return nil, ErrReceiptExceedsOrder
		}
		cumulativeHandled := sums.Accepted.Add(sums.Rejected).
			Add(cur.Accepted).Add(cur.Rejected).
			Add(li.QuantityAccepted).Add(li.QuantityRejected)
		if cumulativeHandled.GreaterThan(cumulativeReceived) {
			return nil, ErrReceiptExceedsOrder
		}
		cur.Received = cur.Received.Add(li.QuantityReceived)
		cur.Accepted = cur.Accepted.Add(li.QuantityAccepted)
		cur.Rejected = cur.Rejected.Add(li.QuantityRejected)
		submitted[li.POLineID] = cur

		amount := li.QuantityAccepted.Mul(pol.UnitPrice).Round(2)
		tax := amount.Mul(pol.TaxRate).Div(hundred).Round(2)
		lines = append(lines, ReceiptLine{
			POLineID:         li.POLineID,
			ItemID:           pol.ItemID,
			ItemCode:         pol.ItemCode,
			QuantityOrdered:  pol.Quantity,
			QuantityReceived: li.QuantityReceived,
			QuantityAccepted: li.QuantityAccepted,
			QuantityRejected: li.QuantityRejected,
			UnitPrice:        pol.UnitPrice,
			LineAmount:       amount,
			TaxAmount:        tax,
			PacketHint:       pol.PacketHint,
		})
	}
	return lines, nil
}

func sumReceiptLines(lines []ReceiptLine) (subtotal, tax, total decimal.Decimal) {
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineAmount)
		tax = tax.Add(l.TaxAmount)
	}
	subtotal = subtotal.Round(2)
	tax = tax.Round(2)
	return subtotal, tax, subtotal.Add(tax)
}

// acceptedDeltas maps accepted receipt quantities to inventory unit deltas.
func acceptedDeltas(lines []ReceiptLine) []inventory.LineDelta {
	var deltas []inventory.LineDelta
	for _, l := range lines {
		if l.QuantityAccepted.IsPositive() {
			deltas = append(deltas, inventory.LineDelta{
				ItemCode:   l.ItemCode,
				Units:      l.QuantityAccepted,
				PacketHint: l.PacketHint,
			})
		}
	}
	return deltas
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}

// snapshotDocument maps a header to its loggable audit representation.
func snapshotDocument(doc Document) map[string]any {
	return map[string]any{
		"kind":            string(doc.Kind),
		"number":          doc.Number,
		"counterparty_id": doc.CounterpartyID,
		"currency_code":   doc.CurrencyCode,
		"subtotal":        doc.Subtotal.String(),
		"tax_amount":      doc.TaxAmount.String(),
		"total_amount":    doc.TotalAmount.String(),
		"status":          string(doc.Status),
		"approval_status": string(doc.ApprovalStatus),
	}
}

// snapshotReceipt maps a goods receipt to its loggable audit representation.
func snapshotReceipt(rcpt GoodsReceipt) map[string]any {
	return map[string]any{
		"number":       rcpt.Number,
		"po_id":        rcpt.POID,
		"status":       string(rcpt.Status),
		"subtotal":     rcpt.Subtotal.String(),
		"tax_amount":   rcpt.TaxAmount.String(),
		"total_amount": rcpt.TotalAmount.String(),
	}
}
