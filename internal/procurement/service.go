package procurement

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Sequence names owned by this package.
const (
	seqDocuments     = "procurement_documents"
	seqDocumentLines = "procurement_document_lines"
	seqReceipts      = "goods_receipts"
	seqReceiptLines  = "goods_receipt_lines"
)

const receiptDocType = "GOODS_RECEIPT"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (Document, []Line, error)
	GetReceipt(ctx context.Context, id int64) (GoodsReceipt, []ReceiptLine, error)
	ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error)
	CounterpartyExists(ctx context.Context, id int64) (bool, error)
}

// TxRepository exposes the operations available inside one transaction.
// Sequence allocation, number generation and inventory reconciliation are
// reached through it so they share the transaction's row locks.
type TxRepository interface {
	NextSequence(ctx context.Context, name string) (int64, error)
	GenerateNumber(ctx context.Context, docType string) (string, error)
	EnsureUniqueNumber(ctx context.Context, docType, number string) error
	AllocateTracked(ctx context.Context, docType string, year int) (string, error)

	InsertDocument(ctx context.Context, doc Document) error
	UpdateDocumentHeader(ctx context.Context, doc Document) error
	UpdateDocumentStatus(ctx context.Context, id int64, status DocStatus) error
	RollupStatus(ctx context.Context, poID int64, status DocStatus) error
	SetApproval(ctx context.Context, id, approverID int64, at time.Time) error
	ClearApproval(ctx context.Context, id int64) error
	DeleteLines(ctx context.Context, documentID int64) error
	InsertLines(ctx context.Context, lines []Line) error

	InsertReceipt(ctx context.Context, rcpt GoodsReceipt) error
	InsertReceiptLines(ctx context.Context, lines []ReceiptLine) error
	DeleteReceiptLines(ctx context.Context, receiptID int64) error
	UpdateReceiptTotals(ctx context.Context, rcpt GoodsReceipt) error
	SetReceiptStatus(ctx context.Context, id int64, status ReceiptStatus) error
	AddReceivedAmount(ctx context.Context, poID int64, delta decimal.Decimal) error

	OrderedQuantity(ctx context.Context, poID int64) (decimal.Decimal, error)
	ReceiptQuantitySums(ctx context.Context, poID int64) (LineReceiptSum, error)
	LineReceiptSums(ctx context.Context, poLineIDs []int64, excludeReceiptID int64) (map[int64]LineReceiptSum, error)

	ApplyInventory(ctx context.Context, deltas []inventory.LineDelta, reverse bool) ([]inventory.Adjustment, error)
}

// AuditPort records before/after snapshots.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
}

// Service orchestrates the requisition -> agreement/purchase order ->
// goods receipt chain.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	approvals ApprovalPort
	logger    *slog.Logger
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, audit AuditPort, approvals ApprovalPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, approvals: approvals, logger: logger}
}

// CreateReceiptResult carries the created receipt plus the outcome of its
// best-effort side effects.
type CreateReceiptResult struct {
	Receipt     GoodsReceipt
	Lines       []ReceiptLine
	Adjustments []inventory.Adjustment
	SideEffects []shared.SideEffect
}

// CreateDocument persists a header and its lines in one transaction.
func (s *Service) CreateDocument(ctx context.Context, actorID int64, input CreateDocumentInput) (Document, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Document{}, err
	}
	if !ValidKind(input.Kind) {
		return Document{}, shared.Validationf("unknown document kind %q", input.Kind)
	}
	if err := validateLines(input.Lines); err != nil {
		return Document{}, err
	}
	exists, err := s.repo.CounterpartyExists(ctx, input.CounterpartyID)
	if err != nil {
		return Document{}, err
	}
	if !exists {
		return Document{}, ErrCounterpartyNotFound
	}

	doc := Document{
		Kind:           input.Kind,
		CounterpartyID: input.CounterpartyID,
		CurrencyCode:   strings.ToUpper(input.CurrencyCode),
		ExchangeRate:   parseDecimal(input.ExchangeRate, decimal.NewFromInt(1)),
		Status:         StatusDraft,
		ApprovalStatus: ApprovalPending,
		CreatedBy:      actorID,
	}

	var lines []Line
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.NextSequence(ctx, seqDocuments)
		if err != nil {
			return err
		}
		doc.ID = id

		if input.Number != "" {
			if err := tx.EnsureUniqueNumber(ctx, string(doc.Kind), input.Number); err != nil {
				return err
			}
			doc.Number = input.Number
		} else {
			number, err := tx.GenerateNumber(ctx, string(doc.Kind))
			if err != nil {
				return err
			}
			doc.Number = number
		}

		lines = buildLines(doc.ID, input.Lines)
		doc.Subtotal, doc.TaxAmount, doc.TotalAmount = computeTotals(lines, input.Total)

		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		for i := range lines {
			lineID, err := tx.NextSequence(ctx, seqDocumentLines)
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return tx.InsertLines(ctx, lines)
	})
	if err != nil {
		return Document{}, err
	}

	s.recordAudit(ctx, actorID, string(doc.Kind)+"_CREATE", doc.ID, nil, snapshotDocument(doc))
	return doc, nil
}

// UpdateDocument recomputes totals and replaces the full line set; lines
// are renumbered 1..N in submission order.
func (s *Service) UpdateDocument(ctx context.Context, actorID, id int64, input UpdateDocumentInput) (Document, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Document{}, err
	}
	if err := validateLines(input.Lines); err != nil {
		return Document{}, err
	}

	current, _, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if current.Status.Terminal() {
		return Document{}, ErrTerminalStatus
	}
	before := snapshotDocument(current)

	doc := current
	if input.CurrencyCode != "" {
		doc.CurrencyCode = strings.ToUpper(input.CurrencyCode)
	}
	if input.ExchangeRate != "" {
		doc.ExchangeRate = parseDecimal(input.ExchangeRate, doc.ExchangeRate)
	}

	var lines []Line
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines = buildLines(doc.ID, input.Lines)
		doc.Subtotal, doc.TaxAmount, doc.TotalAmount = computeTotals(lines, input.Total)
		if err := tx.UpdateDocumentHeader(ctx, doc); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, doc.ID); err != nil {
			return err
		}
		for i := range lines {
			lineID, err := tx.NextSequence(ctx, seqDocumentLines)
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return tx.InsertLines(ctx, lines)
	})
	if err != nil {
		return Document{}, err
	}

	s.recordAudit(ctx, actorID, string(doc.Kind)+"_UPDATE", doc.ID, before, snapshotDocument(doc))
	return doc, nil
}

// UpdateStatus applies a status-only PATCH. Unknown values are rejected,
// never silently accepted. Moving approval_status to APPROVED stamps the
// approver and timestamp; moving away clears both.
func (s *Service) UpdateStatus(ctx context.Context, actorID, id int64, input UpdateStatusInput) (Document, error) {
	if input.Status == "" && input.ApprovalStatus == "" {
		return Document{}, shared.Validationf("status or approval_status required")
	}

	doc, _, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	before := snapshotDocument(doc)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.Status != "" {
			if !ValidDocStatus(input.Status) {
				return ErrInvalidStatus
			}
			if doc.Status.Terminal() && input.Status != doc.Status {
				return ErrTerminalStatus
			}
			if err := tx.UpdateDocumentStatus(ctx, id, input.Status); err != nil {
				return err
			}
			doc.Status = input.Status
		}
		if input.ApprovalStatus != "" {
			if !ValidApprovalStatus(input.ApprovalStatus) {
				return ErrInvalidStatus
			}
			now := time.Now()
			switch {
			case input.ApprovalStatus == ApprovalApproved && doc.ApprovalStatus != ApprovalApproved:
				if err := tx.SetApproval(ctx, id, actorID, now); err != nil {
					return err
				}
				doc.ApprovalStatus = ApprovalApproved
				doc.ApprovedBy = &actorID
				doc.ApprovedAt = &now
			case input.ApprovalStatus != ApprovalApproved && doc.ApprovalStatus == ApprovalApproved:
				if err := tx.ClearApproval(ctx, id); err != nil {
					return err
				}
				doc.ApprovalStatus = input.ApprovalStatus
				doc.ApprovedBy = nil
				doc.ApprovedAt = nil
			default:
				doc.ApprovalStatus = input.ApprovalStatus
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}

	if s.approvals != nil && input.ApprovalStatus != "" {
		ref := shared.ApprovalRef(string(doc.Kind), doc.ID)
		action := shared.ApprovalApprove
		if input.ApprovalStatus != ApprovalApproved {
			action = shared.ApprovalRevoke
		}
		if action == shared.ApprovalApprove {
			// An approval implies a submission; backfill it so the trail
			// always opens with SUBMIT.
			if err := s.approvals.EnsureSubmit(ctx, string(doc.Kind), ref, actorID, doc.Number); err != nil {
				s.logger.Error("record approval submit", slog.Any("error", err))
			}
		}
		if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: string(doc.Kind), RefID: ref, ActorID: actorID, Action: action, Note: doc.Number}); err != nil {
			s.logger.Error("record approval", slog.Any("error", err))
		}
	}

	s.recordAudit(ctx, actorID, string(doc.Kind)+"_STATUS", doc.ID, before, snapshotDocument(doc))
	return doc, nil
}

// CancelDocument soft-deletes by setting status CANCELLED.
func (s *Service) CancelDocument(ctx context.Context, actorID, id int64) error {
	doc, _, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status.Terminal() {
		return ErrTerminalStatus
	}
	before := snapshotDocument(doc)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDocumentStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return err
	}
	doc.Status = StatusCancelled
	s.recordAudit(ctx, actorID, string(doc.Kind)+"_CANCEL", doc.ID, before, snapshotDocument(doc))
	return nil
}

// CreateReceipt records a goods receipt against a purchase order, rolls the
// PO status up and reconciles accepted quantities into inventory. The
// inventory write runs in its own transaction after the receipt commits; a
// failure there degrades to a side effect and never rolls back the receipt.
func (s *Service) CreateReceipt(ctx context.Context, actorID int64, input CreateReceiptInput) (CreateReceiptResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return CreateReceiptResult{}, err
	}

	po, poLines, err := s.repo.GetDocument(ctx, input.POID)
	if err != nil {
		return CreateReceiptResult{}, err
	}
	if po.Kind != KindPurchaseOrder {
		return CreateReceiptResult{}, shared.Validationf("document %d is not a purchase order", input.POID)
	}
	if po.Status != StatusReleased && po.Status != StatusReceived {
		return CreateReceiptResult{}, shared.Conflictf("purchase order %s is not open for receiving", po.Number)
	}

	byID := linesByID(poLines)
	for _, li := range input.Lines {
		if _, ok := byID[li.POLineID]; !ok {
			return CreateReceiptResult{}, shared.NotFoundf("purchase order line %d not found", li.POLineID)
		}
		if err := validateReceiptQuantities(li); err != nil {
			return CreateReceiptResult{}, err
		}
	}

	rcpt := GoodsReceipt{
		POID:       input.POID,
		Status:     ReceiptActive,
		ReceivedAt: defaultTime(input.ReceivedAt),
		CreatedBy:  actorID,
	}
	var lines []ReceiptLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sums, err := tx.LineReceiptSums(ctx, lineIDs(input.Lines), 0)
		if err != nil {
			return err
		}
		lines, err = buildReceiptLines(byID, sums, input.Lines)
		if err != nil {
			return err
		}

		id, err := tx.NextSequence(ctx, seqReceipts)
		if err != nil {
			return err
		}
		rcpt.ID = id
		if input.Number != "" {
			if err := tx.EnsureUniqueNumber(ctx, receiptDocType, input.Number); err != nil {
				return err
			}
			rcpt.Number = input.Number
		} else {
			number, err := tx.GenerateNumber(ctx, receiptDocType)
			if err != nil {
				return err
			}
			rcpt.Number = number
		}

		rcpt.Subtotal, rcpt.TaxAmount, rcpt.TotalAmount = sumReceiptLines(lines)
		if err := tx.InsertReceipt(ctx, rcpt); err != nil {
			return err
		}
		for i := range lines {
			lineID, err := tx.NextSequence(ctx, seqReceiptLines)
			if err != nil {
				return err
			}
			lines[i].ID = lineID
			lines[i].ReceiptID = rcpt.ID
		}
		if err := tx.InsertReceiptLines(ctx, lines); err != nil {
			return err
		}
		if err := tx.AddReceivedAmount(ctx, po.ID, rcpt.TotalAmount); err != nil {
			return err
		}
		return s.rollupLocked(ctx, tx, po.ID)
	})
	if err != nil {
		return CreateReceiptResult{}, err
	}

	result := CreateReceiptResult{Receipt: rcpt, Lines: lines}
	deltas := acceptedDeltas(lines)
	if len(deltas) > 0 {
		invErr := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			adjustments, err := tx.ApplyInventory(ctx, deltas, false)
			if err != nil {
				return err
			}
			result.Adjustments = adjustments
			return nil
		})
		result.SideEffects = append(result.SideEffects, shared.SideEffect{Name: "inventory_reconciliation", Err: invErr})
	}
	result.SideEffects = append(result.SideEffects, s.recordAudit(ctx, actorID, "GOODS_RECEIPT_CREATE", rcpt.ID, nil, snapshotReceipt(rcpt)))
	shared.LogSideEffects(s.logger, result.SideEffects)
	return result, nil
}

// UpdateReceipt replaces a receipt's lines: previously applied inventory is
// reversed, new quantities applied, and the PO rolled up again.
func (s *Service) UpdateReceipt(ctx context.Context, actorID, id int64, input CreateReceiptInput) (CreateReceiptResult, error) {
	rcpt, oldLines, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return CreateReceiptResult{}, err
	}
	if rcpt.Status == ReceiptCancelled {
		return CreateReceiptResult{}, shared.Conflictf("goods receipt %s is cancelled", rcpt.Number)
	}
	po, poLines, err := s.repo.GetDocument(ctx, rcpt.POID)
	if err != nil {
		return CreateReceiptResult{}, err
	}
	byID := linesByID(poLines)
	for _, li := range input.Lines {
		if _, ok := byID[li.POLineID]; !ok {
			return CreateReceiptResult{}, shared.NotFoundf("purchase order line %d not found", li.POLineID)
		}
		if err := validateReceiptQuantities(li); err != nil {
			return CreateReceiptResult{}, err
		}
	}
	before := snapshotReceipt(rcpt)
	oldTotal := rcpt.TotalAmount

	var lines []ReceiptLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if deltas := acceptedDeltas(oldLines); len(deltas) > 0 {
			if _, err := tx.ApplyInventory(ctx, deltas, true); err != nil {
				return err
			}
		}
		sums, err := tx.LineReceiptSums(ctx, lineIDs(input.Lines), rcpt.ID)
		if err != nil {
			return err
		}
		lines, err = buildReceiptLines(byID, sums, input.Lines)
		if err != nil {
			return err
		}
		if err := tx.DeleteReceiptLines(ctx, rcpt.ID); err != nil {
			return err
		}
		for i := range lines {
			lineID, err := tx.NextSequence(ctx, seqReceiptLines)
			if err != nil {
				return err
			}
			lines[i].ID = lineID
			lines[i].ReceiptID = rcpt.ID
		}
		if err := tx.InsertReceiptLines(ctx, lines); err != nil {
			return err
		}
		rcpt.Subtotal, rcpt.TaxAmount, rcpt.TotalAmount = sumReceiptLines(lines)
		if err := tx.UpdateReceiptTotals(ctx, rcpt); err != nil {
			return err
		}
		if err := tx.AddReceivedAmount(ctx, po.ID, rcpt.TotalAmount.Sub(oldTotal)); err != nil {
			return err
		}
		if deltas := acceptedDeltas(lines); len(deltas) > 0 {
			if _, err := tx.ApplyInventory(ctx, deltas, false); err != nil {
				return err
			}
		}
		return s.rollupLocked(ctx, tx, po.ID)
	})
	if err != nil {
		return CreateReceiptResult{}, err
	}

	result := CreateReceiptResult{Receipt: rcpt, Lines: lines}
	result.SideEffects = append(result.SideEffects, s.recordAudit(ctx, actorID, "GOODS_RECEIPT_UPDATE", rcpt.ID, before, snapshotReceipt(rcpt)))
	shared.LogSideEffects(s.logger, result.SideEffects)
	return result, nil
}

// CancelReceipt reverses applied inventory, then flips the receipt to
// CANCELLED; a cancelled receipt must not leave stock inflated, so the
// reversal shares the cancellation transaction.
func (s *Service) CancelReceipt(ctx context.Context, actorID, id int64) error {
	rcpt, lines, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return err
	}
	if rcpt.Status == ReceiptCancelled {
		return shared.Conflictf("goods receipt %s is already cancelled", rcpt.Number)
	}
	before := snapshotReceipt(rcpt)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if deltas := acceptedDeltas(lines); len(deltas) > 0 {
			if _, err := tx.ApplyInventory(ctx, deltas, true); err != nil {
				return err
			}
		}
		if err := tx.SetReceiptStatus(ctx, id, ReceiptCancelled); err != nil {
			return err
		}
		if err := tx.AddReceivedAmount(ctx, rcpt.POID, rcpt.TotalAmount.Neg()); err != nil {
			return err
		}
		return s.rollupLocked(ctx, tx, rcpt.POID)
	})
	if err != nil {
		return err
	}

	rcpt.Status = ReceiptCancelled
	s.recordAudit(ctx, actorID, "GOODS_RECEIPT_CANCEL", id, before, snapshotReceipt(rcpt))
	return nil
}

// RollupPOStatus recomputes the purchase-order status from its receipts.
// It is idempotent and safe to re-run after every receipt mutation.
func (s *Service) RollupPOStatus(ctx context.Context, poID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.rollupLocked(ctx, tx, poID)
	})
}

// rollupLocked derives CLOSED/RECEIVED from accepted and received sums. A
// CANCELLED order is never overwritten; that guard lives in RollupStatus.
func (s *Service) rollupLocked(ctx context.Context, tx TxRepository, poID int64) error {
	ordered, err := tx.OrderedQuantity(ctx, poID)
	if err != nil {
		return err
	}
	if !ordered.IsPositive() {
		return nil
	}
	sums, err := tx.ReceiptQuantitySums(ctx, poID)
	if err != nil {
		return err
	}
	switch {
	case sums.Accepted.GreaterThanOrEqual(ordered):
		return tx.RollupStatus(ctx, poID, StatusClosed)
	case sums.Received.IsPositive():
		return tx.RollupStatus(ctx, poID, StatusReceived)
	}
	return nil
}

// AllocateTrackedNumber hands out the next unused year-scoped number. A
// conflict means a concurrent allocation won; callers retry the whole call.
func (s *Service) AllocateTrackedNumber(ctx context.Context, kind DocKind, year int) (string, error) {
	if !ValidKind(kind) {
		return "", shared.Validationf("unknown document kind %q", kind)
	}
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.AllocateTracked(ctx, string(kind), year)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	return number, err
}

// GetDocument returns a header with its lines ordered by line number.
func (s *Service) GetDocument(ctx context.Context, id int64) (Document, []Line, error) {
	return s.repo.GetDocument(ctx, id)
}

// ListDocuments returns headers ordered by creation descending.
func (s *Service) ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error) {
	if filter.Status != "" && !ValidDocStatus(filter.Status) {
		return nil, ErrInvalidStatus
	}
	return s.repo.ListDocuments(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, before, after map[string]any) shared.SideEffect {
	effect := shared.SideEffect{Name: "audit_trail"}
	if s.audit == nil {
		return effect
	}
	effect.Err = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "procurement",
		EntityID: strconv.FormatInt(entityID, 10),
		Before:   before,
		After:    after,
	})
	if effect.Err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", effect.Err))
	}
	return effect
}
