package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/numbering"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool       *pgxpool.Pool
	allocator  *numbering.Allocator
	reconciler *inventory.Reconciler
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, allocator *numbering.Allocator, reconciler *inventory.Reconciler) *Repository {
	return &Repository{pool: pool, allocator: allocator, reconciler: reconciler}
}

type txRepo struct {
	tx         pgx.Tx
	allocator  *numbering.Allocator
	reconciler *inventory.Reconciler
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, allocator: r.allocator, reconciler: r.reconciler})
	})
}

const documentColumns = `id, kind, number, counterparty_id, currency_code, exchange_rate,
subtotal, tax_amount, total_amount, received_amount, status, approval_status,
approved_by, approved_at, created_by, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Kind, &doc.Number, &doc.CounterpartyID, &doc.CurrencyCode,
		&doc.ExchangeRate, &doc.Subtotal, &doc.TaxAmount, &doc.TotalAmount, &doc.ReceivedAmount,
		&doc.Status, &doc.ApprovalStatus, &doc.ApprovedBy, &doc.ApprovedAt,
		&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

// GetDocument returns a header and its lines ordered by line number.
func (r *Repository) GetDocument(ctx context.Context, id int64) (Document, []Line, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM procurement_documents WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, nil, ErrDocumentNotFound
		}
		return Document{}, nil, shared.MapPgError(err, "procurement document")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, document_id, line_number, item_id, item_code, quantity, unit_price,
line_amount, tax_rate, tax_amount, packet_hint
FROM procurement_document_lines WHERE document_id=$1 ORDER BY line_number`, id)
	if err != nil {
		return Document{}, nil, shared.MapPgError(err, "procurement document lines")
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.LineNumber, &l.ItemID, &l.ItemCode,
			&l.Quantity, &l.UnitPrice, &l.LineAmount, &l.TaxRate, &l.TaxAmount, &l.PacketHint); err != nil {
			return Document{}, nil, shared.MapPgError(err, "procurement document lines")
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return Document{}, nil, shared.MapPgError(err, "procurement document lines")
	}
	return doc, lines, nil
}

// GetReceipt returns a goods receipt and its lines.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (GoodsReceipt, []ReceiptLine, error) {
	var rcpt GoodsReceipt
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, po_id, status, subtotal, tax_amount, total_amount, received_at, created_by, created_at
FROM goods_receipts WHERE id=$1`, id).
		Scan(&rcpt.ID, &rcpt.Number, &rcpt.POID, &rcpt.Status, &rcpt.Subtotal, &rcpt.TaxAmount,
			&rcpt.TotalAmount, &rcpt.ReceivedAt, &rcpt.CreatedBy, &rcpt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, nil, ErrReceiptNotFound
		}
		return GoodsReceipt{}, nil, shared.MapPgError(err, "goods receipt")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, receipt_id, po_line_id, item_id, item_code, quantity_ordered, quantity_received,
quantity_accepted, quantity_rejected, unit_price, line_amount, tax_amount, packet_hint
FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, nil, shared.MapPgError(err, "goods receipt lines")
	}
	defer rows.Close()
	var lines []ReceiptLine
	for rows.Next() {
		var l ReceiptLine
		if err := rows.Scan(&l.ID, &l.ReceiptID, &l.POLineID, &l.ItemID, &l.ItemCode,
			&l.QuantityOrdered, &l.QuantityReceived, &l.QuantityAccepted, &l.QuantityRejected,
			&l.UnitPrice, &l.LineAmount, &l.TaxAmount, &l.PacketHint); err != nil {
			return GoodsReceipt{}, nil, shared.MapPgError(err, "goods receipt lines")
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return GoodsReceipt{}, nil, shared.MapPgError(err, "goods receipt lines")
	}
	return rcpt, lines, nil
}

// ListDocuments returns headers matching the filter, creation descending.
func (r *Repository) ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error) {
	sql := `SELECT ` + documentColumns + ` FROM procurement_documents WHERE 1=1`
	args := []any{}
	argNum := 1

	add := func(clause string, value any) {
		sql += fmt.Sprintf(clause, argNum)
		args = append(args, value)
		argNum++
	}
	if filter.Kind != "" {
		add(` AND kind = $%d`, string(filter.Kind))
	}
	if filter.Status != "" {
		add(` AND status = $%d`, string(filter.Status))
	}
	if filter.CounterpartyID > 0 {
		add(` AND counterparty_id = $%d`, filter.CounterpartyID)
	}
	if !filter.From.IsZero() {
		add(` AND created_at >= $%d`, filter.From)
	}
	if !filter.To.IsZero() {
		add(` AND created_at < $%d`, filter.To)
	}
	if filter.Search != "" {
		add(` AND number ILIKE $%d`, "%"+filter.Search+"%")
	}
	sql += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	sql += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.MapPgError(err, "procurement documents")
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, shared.MapPgError(err, "procurement documents")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapPgError(err, "procurement documents")
	}
	return docs, nil
}

// CounterpartyExists checks the counterparty reference before a transaction
// opens.
func (r *Repository) CounterpartyExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM counterparties WHERE id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, shared.MapPgError(err, "counterparty")
	}
	return exists, nil
}

// Transactional operations

func (t *txRepo) NextSequence(ctx context.Context, name string) (int64, error) {
	return t.allocator.Next(ctx, t.tx, name)
}

func (t *txRepo) GenerateNumber(ctx context.Context, docType string) (string, error) {
	return t.allocator.Generate(ctx, t.tx, docType)
}

func (t *txRepo) EnsureUniqueNumber(ctx context.Context, docType, number string) error {
	return t.allocator.EnsureUnique(ctx, t.tx, docType, number)
}

func (t *txRepo) AllocateTracked(ctx context.Context, docType string, year int) (string, error) {
	return t.allocator.AllocateTracked(ctx, t.tx, docType, year)
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO procurement_documents
(id, kind, number, counterparty_id, currency_code, exchange_rate, subtotal, tax_amount,
total_amount, received_amount, status, approval_status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11,$12,NOW(),NOW())`,
		doc.ID, doc.Kind, doc.Number, doc.CounterpartyID, doc.CurrencyCode, doc.ExchangeRate,
		doc.Subtotal, doc.TaxAmount, doc.TotalAmount, doc.Status, doc.ApprovalStatus, doc.CreatedBy)
	return shared.MapPgError(err, "procurement document")
}

func (t *txRepo) UpdateDocumentHeader(ctx context.Context, doc Document) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE procurement_documents SET currency_code=$1, exchange_rate=$2, subtotal=$3,
tax_amount=$4, total_amount=$5, updated_at=NOW() WHERE id=$6`,
		doc.CurrencyCode, doc.ExchangeRate, doc.Subtotal, doc.TaxAmount, doc.TotalAmount, doc.ID)
	return shared.MapPgError(err, "procurement document")
}

func (t *txRepo) UpdateDocumentStatus(ctx context.Context, id int64, status DocStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE procurement_documents SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return shared.MapPgError(err, "procurement document")
}

// RollupStatus writes a derived status but never overwrites CANCELLED.
func (t *txRepo) RollupStatus(ctx context.Context, poID int64, status DocStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE procurement_documents SET status=$1, updated_at=NOW()
WHERE id=$2 AND status <> 'CANCELLED'`, status, poID)
	return shared.MapPgError(err, "procurement document")
}

func (t *txRepo) SetApproval(ctx context.Context, id, approverID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE procurement_documents SET approval_status='APPROVED', approved_by=$1, approved_at=$2,
updated_at=NOW() WHERE id=$3`, approverID, at, id)
	return shared.MapPgError(err, "procurement document")
}

func (t *txRepo) ClearApproval(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE procurement_documents SET approval_status='PENDING', approved_by=NULL, approved_at=NULL,
updated_at=NOW() WHERE id=$1`, id)
	return shared.MapPgError(err, "procurement document")
}

func (t *txRepo) DeleteLines(ctx context.Context, documentID int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM procurement_document_lines WHERE document_id=$1`, documentID)
	return shared.MapPgError(err, "procurement document lines")
}

// InsertLines batch-inserts the full line set in one round trip.
func (t *txRepo) InsertLines(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO procurement_document_lines
(id, document_id, line_number, item_id, item_code, quantity, unit_price, line_amount, tax_rate, tax_amount, packet_hint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			l.ID, l.DocumentID, l.LineNumber, l.ItemID, l.ItemCode,
			l.Quantity, l.UnitPrice, l.LineAmount, l.TaxRate, l.TaxAmount, l.PacketHint)
	}
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for range lines {
		if _, err := br.Exec(); err != nil {
			return shared.MapPgError(err, "procurement document lines")
		}
	}
	return nil
}

func (t *txRepo) InsertReceipt(ctx context.Context, rcpt GoodsReceipt) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO goods_receipts (id, number, po_id, status, subtotal, tax_amount, total_amount, received_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())`,
		rcpt.ID, rcpt.Number, rcpt.POID, rcpt.Status, rcpt.Subtotal, rcpt.TaxAmount,
		rcpt.TotalAmount, rcpt.ReceivedAt, rcpt.CreatedBy)
	return shared.MapPgError(err, "goods receipt")
}

func (t *txRepo) InsertReceiptLines(ctx context.Context, lines []ReceiptLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO goods_receipt_lines
(id, receipt_id, po_line_id, item_id, item_code, quantity_ordered, quantity_received,
quantity_accepted, quantity_rejected, unit_price, line_amount, tax_amount, packet_hint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			l.ID, l.ReceiptID, l.POLineID, l.ItemID, l.ItemCode, l.QuantityOrdered,
			l.QuantityReceived, l.QuantityAccepted, l.QuantityRejected,
			l.UnitPrice, l.LineAmount, l.TaxAmount, l.PacketHint)
	}
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for range lines {
		if _, err := br.Exec(); err != nil {
			return shared.MapPgError(err, "goods receipt lines")
		}
	}
	return nil
}

func (t *txRepo) DeleteReceiptLines(ctx context.Context, receiptID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM goods_receipt_lines WHERE receipt_id=$1`, receiptID)
	return shared.MapPgError(err, "goods receipt lines")
}

func (t *txRepo) UpdateReceiptTotals(ctx context.Context, rcpt GoodsReceipt) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE goods_receipts SET subtotal=$1, tax_amount=$2, total_amount=$3 WHERE id=$4`,
		rcpt.Subtotal, rcpt.TaxAmount, rcpt.TotalAmount, rcpt.ID)
	return shared.MapPgError(err, "goods receipt")
}

func (t *txRepo) SetReceiptStatus(ctx context.Context, id int64, status ReceiptStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE goods_receipts SET status=$1 WHERE id=$2`, status, id)
	return shared.MapPgError(err, "goods receipt")
}

func (t *txRepo) AddReceivedAmount(ctx context.Context, poID int64, delta decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE procurement_documents SET received_amount = received_amount + $1, updated_at=NOW() WHERE id=$2`,
		delta, poID)
	return shared.MapPgError(err, "procurement document")
}

func (t *txRepo) OrderedQuantity(ctx context.Context, poID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM procurement_document_lines WHERE document_id=$1`,
		poID).Scan(&qty)
	if err != nil {
		return decimal.Zero, shared.MapPgError(err, "procurement document lines")
	}
	return qty, nil
}

// ReceiptQuantitySums aggregates received/accepted across a PO's active
// receipts.
func (t *txRepo) ReceiptQuantitySums(ctx context.Context, poID int64) (LineReceiptSum, error) {
	var sum LineReceiptSum
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(l.quantity_received),0), COALESCE(SUM(l.quantity_accepted),0), COALESCE(SUM(l.quantity_rejected),0)
FROM goods_receipt_lines l JOIN goods_receipts r ON r.id = l.receipt_id
WHERE r.po_id=$1 AND r.status='ACTIVE'`, poID).
		Scan(&sum.Received, &sum.Accepted, &sum.Rejected)
	if err != nil {
		return LineReceiptSum{}, shared.MapPgError(err, "goods receipt lines")
	}
	return sum, nil
}

// LineReceiptSums aggregates prior receipt quantities per PO line, skipping
// cancelled receipts and optionally the receipt being edited.
func (t *txRepo) LineReceiptSums(ctx context.Context, poLineIDs []int64, excludeReceiptID int64) (map[int64]LineReceiptSum, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT l.po_line_id, COALESCE(SUM(l.quantity_received),0), COALESCE(SUM(l.quantity_accepted),0), COALESCE(SUM(l.quantity_rejected),0)
FROM goods_receipt_lines l JOIN goods_receipts r ON r.id = l.receipt_id
WHERE l.po_line_id = ANY($1) AND r.status='ACTIVE' AND ($2 = 0 OR r.id <> $2)
GROUP BY l.po_line_id`, poLineIDs, excludeReceiptID)
	if err != nil {
		return nil, shared.MapPgError(err, "goods receipt lines")
	}
	defer rows.Close()
	sums := map[int64]LineReceiptSum{}
	for rows.Next() {
		var id int64
		var sum LineReceiptSum
		if err := rows.Scan(&id, &sum.Received, &sum.Accepted, &sum.Rejected); err != nil {
			return nil, shared.MapPgError(err, "goods receipt lines")
		}
		sums[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapPgError(err, "goods receipt lines")
	}
	return sums, nil
}

func (t *txRepo) ApplyInventory(ctx context.Context, deltas []inventory.LineDelta, reverse bool) ([]inventory.Adjustment, error) {
	dir := inventory.DirectionIncrease
	if reverse {
		dir = inventory.DirectionDecrease
	}
	return t.reconciler.ApplyBatch(ctx, t.tx, deltas, dir)
}
