package procurement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/numbering"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	docs           map[int64]Document
	docLines       map[int64][]Line
	receipts       map[int64]GoodsReceipt
	receiptLines   map[int64][]ReceiptLine
	counterparties map[int64]bool
	seqs           map[string]int64
	numberCursor   map[string]int64
	usedNumbers    map[string]bool
	tracked        map[string]int64
	stock          map[string]decimal.Decimal
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		docs:           make(map[int64]Document),
		docLines:       make(map[int64][]Line),
		receipts:       make(map[int64]GoodsReceipt),
		receiptLines:   make(map[int64][]ReceiptLine),
		counterparties: make(map[int64]bool),
		seqs:           make(map[string]int64),
		numberCursor:   make(map[string]int64),
		usedNumbers:    make(map[string]bool),
		tracked:        make(map[string]int64),
		stock:          make(map[string]decimal.Decimal),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetDocument(ctx context.Context, id int64) (Document, []Line, error) {
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, nil, ErrDocumentNotFound
	}
	return doc, append([]Line(nil), r.docLines[id]...), nil
}

func (r *memoryRepo) GetReceipt(ctx context.Context, id int64) (GoodsReceipt, []ReceiptLine, error) {
	rcpt, ok := r.receipts[id]
	if !ok {
		return GoodsReceipt{}, nil, ErrReceiptNotFound
	}
	return rcpt, append([]ReceiptLine(nil), r.receiptLines[id]...), nil
}

func (r *memoryRepo) ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error) {
	var docs []Document
	for _, doc := range r.docs {
		if filter.Kind != "" && doc.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.CounterpartyID > 0 && doc.CounterpartyID != filter.CounterpartyID {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *memoryRepo) CounterpartyExists(ctx context.Context, id int64) (bool, error) {
	return r.counterparties[id], nil
}

func (t *memoryTx) NextSequence(ctx context.Context, name string) (int64, error) {
	t.repo.seqs[name]++
	return t.repo.seqs[name], nil
}

func (t *memoryTx) GenerateNumber(ctx context.Context, docType string) (string, error) {
	t.repo.numberCursor[docType]++
	number := fmt.Sprintf("%s-%05d", docType, t.repo.numberCursor[docType])
	t.repo.usedNumbers[docType+"/"+number] = true
	return number, nil
}

func (t *memoryTx) EnsureUniqueNumber(ctx context.Context, docType, number string) error {
	key := docType + "/" + number
	if t.repo.usedNumbers[key] {
		return numbering.ErrDuplicateNumber
	}
	t.repo.usedNumbers[key] = true
	return nil
}

func (t *memoryTx) AllocateTracked(ctx context.Context, docType string, year int) (string, error) {
	key := fmt.Sprintf("%s/%d", docType, year)
	t.repo.tracked[key]++
	return fmt.Sprintf("%s-%d-%04d", docType, year, t.repo.tracked[key]), nil
}

func (t *memoryTx) InsertDocument(ctx context.Context, doc Document) error {
	t.repo.docs[doc.ID] = doc
	return nil
}

func (t *memoryTx) UpdateDocumentHeader(ctx context.Context, doc Document) error {
	current := t.repo.docs[doc.ID]
	current.CurrencyCode = doc.CurrencyCode
	current.ExchangeRate = doc.ExchangeRate
	current.Subtotal = doc.Subtotal
	current.TaxAmount = doc.TaxAmount
	current.TotalAmount = doc.TotalAmount
	t.repo.docs[doc.ID] = current
	return nil
}

func (t *memoryTx) UpdateDocumentStatus(ctx context.Context, id int64, status DocStatus) error {
	doc := t.repo.docs[id]
	doc.Status = status
	t.repo.docs[id] = doc
	return nil
}

func (t *memoryTx) RollupStatus(ctx context.Context, poID int64, status DocStatus) error {
	doc := t.repo.docs[poID]
	if doc.Status == StatusCancelled {
		return nil
	}
	doc.Status = status
	t.repo.docs[poID] = doc
	return nil
}

func (t *memoryTx) SetApproval(ctx context.Context, id, approverID int64, at time.Time) error {
	doc := t.repo.docs[id]
	doc.ApprovalStatus = ApprovalApproved
	doc.ApprovedBy = &approverID
	doc.ApprovedAt = &at
	t.repo.docs[id] = doc
	return nil
}

func (t *memoryTx) ClearApproval(ctx context.Context, id int64) error {
	doc := t.repo.docs[id]
	doc.ApprovalStatus = ApprovalPending
	doc.ApprovedBy = nil
	doc.ApprovedAt = nil
	t.repo.docs[id] = doc
	return nil
}

func (t *memoryTx) DeleteLines(ctx context.Context, documentID int64) error {
	delete(t.repo.docLines, documentID)
	return nil
}

func (t *memoryTx) InsertLines(ctx context.Context, lines []Line) error {
	for _, l := range lines {
		t.repo.docLines[l.DocumentID] = append(t.repo.docLines[l.DocumentID], l)
	}
	return nil
}

func (t *memoryTx) InsertReceipt(ctx context.Context, rcpt GoodsReceipt) error {
	t.repo.receipts[rcpt.ID] = rcpt
	return nil
}

func (t *memoryTx) InsertReceiptLines(ctx context.Context, lines []ReceiptLine) error {
	for _, l := range lines {
		t.repo.receiptLines[l.ReceiptID] = append(t.repo.receiptLines[l.ReceiptID], l)
	}
	return nil
}

func (t *memoryTx) DeleteReceiptLines(ctx context.Context, receiptID int64) error {
	delete(t.repo.receiptLines, receiptID)
	return nil
}

func (t *memoryTx) UpdateReceiptTotals(ctx context.Context, rcpt GoodsReceipt) error {
	current := t.repo.receipts[rcpt.ID]
	current.Subtotal = rcpt.Subtotal
	current.TaxAmount = rcpt.TaxAmount
	current.TotalAmount = rcpt.TotalAmount
	t.repo.receipts[rcpt.ID] = current
	return nil
}

func (t *memoryTx) SetReceiptStatus(ctx context.Context, id int64, status ReceiptStatus) error {
	rcpt := t.repo.receipts[id]
	rcpt.Status = status
	t.repo.receipts[id] = rcpt
	return nil
}

func (t *memoryTx) AddReceivedAmount(ctx context.Context, poID int64, delta decimal.Decimal) error {
	doc := t.repo.docs[poID]
	doc.ReceivedAmount = doc.ReceivedAmount.Add(delta)
	t.repo.docs[poID] = doc
	return nil
}

func (t *memoryTx) OrderedQuantity(ctx context.Context, poID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	for _, l := range t.repo.docLines[poID] {
		qty = qty.Add(l.Quantity)
	}
	return qty, nil
}

func (t *memoryTx) ReceiptQuantitySums(ctx context.Context, poID int64) (LineReceiptSum, error) {
	var sum LineReceiptSum
	for _, rcpt := range t.repo.receipts {
		if rcpt.POID != poID || rcpt.Status != ReceiptActive {
			continue
		}
		for _, l := range t.repo.receiptLines[rcpt.ID] {
			sum.Received = sum.Received.Add(l.QuantityReceived)
			sum.Accepted = sum.Accepted.Add(l.QuantityAccepted)
			sum.Rejected = sum.Rejected.Add(l.QuantityRejected)
		}
	}
	return sum, nil
}

func (t *memoryTx) LineReceiptSums(ctx context.Context, poLineIDs []int64, excludeReceiptID int64) (map[int64]LineReceiptSum, error) {
	wanted := make(map[int64]bool, len(poLineIDs))
	for _, id := range poLineIDs {
		wanted[id] = true
	}
	sums := map[int64]LineReceiptSum{}
	for _, rcpt := range t.repo.receipts {
		if rcpt.Status != ReceiptActive || rcpt.ID == excludeReceiptID {
			continue
		}
		for _, l := range t.repo.receiptLines[rcpt.ID] {
			if !wanted[l.POLineID] {
				continue
			}
			sum := sums[l.POLineID]
			sum.Received = sum.Received.Add(l.QuantityReceived)
			sum.Accepted = sum.Accepted.Add(l.QuantityAccepted)
			sum.Rejected = sum.Rejected.Add(l.QuantityRejected)
			sums[l.POLineID] = sum
		}
	}
	return sums, nil
}

func (t *memoryTx) ApplyInventory(ctx context.Context, deltas []inventory.LineDelta, reverse bool) ([]inventory.Adjustment, error) {
	var adjustments []inventory.Adjustment
	for _, d := range deltas {
		units := d.Units
		if reverse {
			units = units.Neg()
		}
		t.repo.stock[d.ItemCode] = t.repo.stock[d.ItemCode].Add(units)
		adjustments = append(adjustments, inventory.Adjustment{ItemCode: d.ItemCode})
	}
	return adjustments, nil
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	repo.counterparties[1] = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, nil, nil, logger), repo
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newPOInput() CreateDocumentInput {
	return CreateDocumentInput{
		Kind:           KindPurchaseOrder,
		CounterpartyID: 1,
		CurrencyCode:   "USD",
		Lines: []LineInput{
			{ItemID: 1, ItemCode: "WID-1", Quantity: qty("2"), UnitPrice: qty("50"), TaxRate: qty("10")},
			{ItemID: 2, ItemCode: "WID-2", Quantity: qty("1"), UnitPrice: qty("50")},
		},
	}
}

func TestCreateDocumentComputesTotals(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	doc, err := svc.CreateDocument(ctx, 7, newPOInput())
	require.NoError(t, err)
	require.NotEmpty(t, doc.Number)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, ApprovalPending, doc.ApprovalStatus)
	require.Equal(t, "150", doc.Subtotal.String())
	require.Equal(t, "10", doc.TaxAmount.String())
	require.Equal(t, "160", doc.TotalAmount.String())

	lines := repo.docLines[doc.ID]
	require.Len(t, lines, 2)
	require.Equal(t, 1, lines[0].LineNumber)
	require.Equal(t, 2, lines[1].LineNumber)
	require.Equal(t, "100", lines[0].LineAmount.String())
	require.Equal(t, "10", lines[0].TaxAmount.String())
}

func TestCreateDocumentSuppliedTotalWins(t *testing.T) {
	svc, _ := newTestService()
	input := newPOInput()
	input.Total = "155.50"

	doc, err := svc.CreateDocument(context.Background(), 7, input)
	require.NoError(t, err)
	require.Equal(t, "155.5", doc.TotalAmount.String())
	require.Equal(t, "150", doc.Subtotal.String())
}

func TestCreateDocumentNonNumericTotalFallsBack(t *testing.T) {
	svc, _ := newTestService()
	input := newPOInput()
	input.Total = "about 160"

	doc, err := svc.CreateDocument(context.Background(), 7, input)
	require.NoError(t, err)
	require.Equal(t, "160", doc.TotalAmount.String())
}

func TestCreateDocumentUnknownCounterparty(t *testing.T) {
	svc, _ := newTestService()
	input := newPOInput()
	input.CounterpartyID = 99

	_, err := svc.CreateDocument(context.Background(), 7, input)
	require.ErrorIs(t, err, ErrCounterpartyNotFound)
}

func TestCreateDocumentDuplicateNumber(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	input := newPOInput()
	input.Number = "PO-CUSTOM-1"

	_, err := svc.CreateDocument(ctx, 7, input)
	require.NoError(t, err)
	_, err = svc.CreateDocument(ctx, 7, input)
	require.ErrorIs(t, err, numbering.ErrDuplicateNumber)
}

func TestUpdateDocumentRenumbersLines(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, 7, newPOInput())
	require.NoError(t, err)

	updated, err := svc.UpdateDocument(ctx, 7, doc.ID, UpdateDocumentInput{
		Lines: []LineInput{
			{ItemID: 3, ItemCode: "WID-3", Quantity: qty("4"), UnitPrice: qty("25")},
			{ItemID: 1, ItemCode: "WID-1", Quantity: qty("1"), UnitPrice: qty("10")},
			{ItemID: 2, ItemCode: "WID-2", Quantity: qty("2"), UnitPrice: qty("5")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "120", updated.TotalAmount.String())

	lines := repo.docLines[doc.ID]
	require.Len(t, lines, 3)
	for i, l := range lines {
		require.Equal(t, i+1, l.LineNumber)
	}
	require.Equal(t, "WID-3", lines[0].ItemCode)
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, 7, newPOInput())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, 7, doc.ID, UpdateStatusInput{Status: "SHIPPED"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApprovalStampingAndClearing(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, 7, newPOInput())
	require.NoError(t, err)

	approved, err := svc.UpdateStatus(ctx, 42, doc.ID, UpdateStatusInput{ApprovalStatus: ApprovalApproved})
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, approved.ApprovalStatus)
	require.NotNil(t, approved.ApprovedBy)
	require.Equal(t, int64(42), *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	cleared, err := svc.UpdateStatus(ctx, 42, doc.ID, UpdateStatusInput{ApprovalStatus: ApprovalPending})
	require.NoError(t, err)
	require.Equal(t, ApprovalPending, cleared.ApprovalStatus)
	require.Nil(t, cleared.ApprovedBy)
	require.Nil(t, cleared.ApprovedAt)
}

type memoryApprovals struct {
	submits []string
	actions []shared.ApprovalAction
}

func (m *memoryApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	m.actions = append(m.actions, log.Action)
	return nil
}

func (m *memoryApprovals) EnsureSubmit(_ context.Context, module string, _ uuid.UUID, _ int64, _ string) error {
	m.submits = append(m.submits, module)
	return nil
}

func TestApprovalTrailOpensWithSubmit(t *testing.T) {
	repo := newMemoryRepo()
	repo.counterparties[1] = true
	approvals := &memoryApprovals{}
	svc := NewService(repo, nil, approvals, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	doc, err := svc.CreateDocument(ctx, 7, newPOInput())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, 42, doc.ID, UpdateStatusInput{ApprovalStatus: ApprovalApproved})
	require.NoError(t, err)
	require.Equal(t, []string{string(doc.Kind)}, approvals.submits)
	require.Equal(t, []shared.ApprovalAction{shared.ApprovalApprove}, approvals.actions)

	// Revoking records the action but never backfills another submit.
	_, err = svc.UpdateStatus(ctx, 42, doc.ID, UpdateStatusInput{ApprovalStatus: ApprovalPending})
	require.NoError(t, err)
	require.Len(t, approvals.submits, 1)
	require.Equal(t, shared.ApprovalRevoke, approvals.actions[1])
}

func TestCancelDocumentTerminalGuard(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, 7, newPOInput())
	require.NoError(t, err)

	require.NoError(t, svc.CancelDocument(ctx, 7, doc.ID))
	require.ErrorIs(t, svc.CancelDocument(ctx, 7, doc.ID), ErrTerminalStatus)

	_, err = svc.UpdateDocument(ctx, 7, doc.ID, UpdateDocumentInput{
		Lines: []LineInput{{ItemID: 1, ItemCode: "WID-1", Quantity: qty("1"), UnitPrice: qty("1")}},
	})
	require.ErrorIs(t, err, ErrTerminalStatus)
}

// releasedPO creates a single-line purchase order (10 units at 5.00) and
// releases it for receiving.
func releasedPO(t *testing.T, svc *Service) (Document, Line) {
	t.Helper()
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, 7, CreateDocumentInput{
		Kind:           KindPurchaseOrder,
		CounterpartyID: 1,
		CurrencyCode:   "USD",
		Lines: []LineInput{
			{ItemID: 1, ItemCode: "WID-1", Quantity: qty("10"), UnitPrice: qty("5"), PacketHint: 1},
		},
	})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, 7, doc.ID, UpdateStatusInput{Status: StatusReleased})
	require.NoError(t, err)
	doc, lines, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	return doc, lines[0]
}

func TestReceiptLifecycleRollsUpStatus(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	partial, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("7"), QuantityAccepted: qty("7")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, ReceiptActive, partial.Receipt.Status)
	require.Equal(t, "35", partial.Receipt.TotalAmount.String())
	for _, effect := range partial.SideEffects {
		require.NoError(t, effect.Err)
	}
	require.Equal(t, "7", repo.stock["WID-1"].String())

	after := repo.docs[po.ID]
	require.Equal(t, StatusReceived, after.Status)
	require.Equal(t, "35", after.ReceivedAmount.String())

	final, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("3"), QuantityAccepted: qty("3")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "15", final.Receipt.TotalAmount.String())
	require.Equal(t, "10", repo.stock["WID-1"].String())
	require.Equal(t, StatusClosed, repo.docs[po.ID].Status)
	require.Equal(t, "50", repo.docs[po.ID].ReceivedAmount.String())
}

func TestReceiptExceedingOrderRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	_, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("7"), QuantityAccepted: qty("7")},
		},
	})
	require.NoError(t, err)

	_, err = svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("4"), QuantityAccepted: qty("4")},
		},
	})
	require.ErrorIs(t, err, ErrReceiptExceedsOrder)
}

func TestReceiptRepeatedLineQuantitiesCombine(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	// 7 + 7 against 10 ordered must fail even inside a single receipt.
	_, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("7"), QuantityAccepted: qty("7")},
			{POLineID: line.ID, QuantityReceived: qty("7"), QuantityAccepted: qty("7")},
		},
	})
	require.ErrorIs(t, err, ErrReceiptExceedsOrder)
	require.True(t, repo.stock["WID-1"].IsZero())
	require.Equal(t, StatusReleased, repo.docs[po.ID].Status)

	// Split deliveries for the same line still fit within the order.
	result, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("6"), QuantityAccepted: qty("6")},
			{POLineID: line.ID, QuantityReceived: qty("4"), QuantityAccepted: qty("4")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "10", repo.stock["WID-1"].String())
	require.Equal(t, StatusClosed, repo.docs[result.Receipt.POID].Status)
}

func TestReceiptAcceptedPlusRejectedBounded(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	_, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("5"), QuantityAccepted: qty("4"), QuantityRejected: qty("2")},
		},
	})
	require.Error(t, err)
}

func TestCancelReceiptReversesInventory(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	result, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("6"), QuantityAccepted: qty("6")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "6", repo.stock["WID-1"].String())

	require.NoError(t, svc.CancelReceipt(ctx, 7, result.Receipt.ID))
	require.Equal(t, "0", repo.stock["WID-1"].String())
	require.Equal(t, ReceiptCancelled, repo.receipts[result.Receipt.ID].Status)
	require.True(t, repo.docs[po.ID].ReceivedAmount.IsZero())

	err = svc.CancelReceipt(ctx, 7, result.Receipt.ID)
	require.Error(t, err)

	// A cancelled receipt no longer counts toward the cumulative cap.
	_, err = svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("10"), QuantityAccepted: qty("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "10", repo.stock["WID-1"].String())
}

func TestUpdateReceiptReappliesInventory(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	result, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("6"), QuantityAccepted: qty("6")},
		},
	})
	require.NoError(t, err)

	updated, err := svc.UpdateReceipt(ctx, 7, result.Receipt.ID, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("4"), QuantityAccepted: qty("4")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "20", updated.Receipt.TotalAmount.String())
	require.Equal(t, "4", repo.stock["WID-1"].String())
	require.Equal(t, "20", repo.docs[po.ID].ReceivedAmount.String())
}

func TestRollupIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	_, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("10"), QuantityAccepted: qty("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusClosed, repo.docs[po.ID].Status)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RollupPOStatus(ctx, po.ID))
		require.Equal(t, StatusClosed, repo.docs[po.ID].Status)
	}
}

func TestRollupNeverOverwritesCancelled(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	po, line := releasedPO(t, svc)

	_, err := svc.CreateReceipt(ctx, 7, CreateReceiptInput{
		POID: po.ID,
		Lines: []ReceiptLineInput{
			{POLineID: line.ID, QuantityReceived: qty("5"), QuantityAccepted: qty("5")},
		},
	})
	require.NoError(t, err)

	doc := repo.docs[po.ID]
	doc.Status = StatusCancelled
	repo.docs[po.ID] = doc

	require.NoError(t, svc.RollupPOStatus(ctx, po.ID))
	require.Equal(t, StatusCancelled, repo.docs[po.ID].Status)
}

func TestAllocateTrackedNumberScopedByYear(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.AllocateTrackedNumber(ctx, KindPurchaseOrder, 2026)
	require.NoError(t, err)
	second, err := svc.AllocateTrackedNumber(ctx, KindPurchaseOrder, 2026)
	require.NoError(t, err)
	other, err := svc.AllocateTrackedNumber(ctx, KindPurchaseOrder, 2025)
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Equal(t, "PURCHASE_ORDER-2026-0001", first)
	require.Equal(t, "PURCHASE_ORDER-2026-0002", second)
	require.Equal(t, "PURCHASE_ORDER-2025-0001", other)
}
