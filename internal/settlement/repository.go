package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/numbering"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool      *pgxpool.Pool
	allocator *numbering.Allocator
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, allocator *numbering.Allocator) *Repository {
	return &Repository{pool: pool, allocator: allocator}
}

type txRepo struct {
	tx        pgx.Tx
	allocator *numbering.Allocator
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, allocator: r.allocator})
	})
}

const invoiceColumns = `id, direction, number, counterparty_id, currency_code, total_amount,
amount_paid, status, issued_at, due_at, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Direction, &inv.Number, &inv.CounterpartyID, &inv.CurrencyCode,
		&inv.TotalAmount, &inv.AmountPaid, &inv.Status, &inv.IssuedAt, &inv.DueAt,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

// GetInvoice returns one invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM settlement_invoices WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, shared.MapPgError(err, "invoice")
	}
	return inv, nil
}

const paymentColumns = `id, direction, number, counterparty_id, payment_amount, amount_applied,
status, paid_at, method, note, created_by, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.Direction, &p.Number, &p.CounterpartyID, &p.PaymentAmount,
		&p.AmountApplied, &p.Status, &p.PaidAt, &p.Method, &p.Note,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetPayment returns a payment with all its application rows.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, []Application, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM settlement_payments WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, nil, ErrPaymentNotFound
		}
		return Payment{}, nil, shared.MapPgError(err, "payment")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, payment_id, invoice_id, applied_amount, unapplied_amount, applied_at, status
FROM settlement_applications WHERE payment_id=$1 ORDER BY id`, id)
	if err != nil {
		return Payment{}, nil, shared.MapPgError(err, "payment applications")
	}
	defer rows.Close()
	var apps []Application
	for rows.Next() {
		var app Application
		if err := rows.Scan(&app.ID, &app.PaymentID, &app.InvoiceID, &app.AppliedAmount,
			&app.UnappliedAmount, &app.AppliedAt, &app.Status); err != nil {
			return Payment{}, nil, shared.MapPgError(err, "payment applications")
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return Payment{}, nil, shared.MapPgError(err, "payment applications")
	}
	return p, apps, nil
}

// ListPayments returns payments matching the filter, creation descending.
func (r *Repository) ListPayments(ctx context.Context, filter ListPaymentsFilter) ([]Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM settlement_payments WHERE 1=1`
	args := []any{}
	argNum := 1

	add := func(clause string, value any) {
		sql += fmt.Sprintf(clause, argNum)
		args = append(args, value)
		argNum++
	}
	if filter.Direction != "" {
		add(` AND direction = $%d`, string(filter.Direction))
	}
	if filter.Status != "" {
		add(` AND status = $%d`, string(filter.Status))
	}
	if filter.CounterpartyID > 0 {
		add(` AND counterparty_id = $%d`, filter.CounterpartyID)
	}
	if !filter.From.IsZero() {
		add(` AND paid_at >= $%d`, filter.From)
	}
	if !filter.To.IsZero() {
		add(` AND paid_at < $%d`, filter.To)
	}
	if filter.Search != "" {
		sql += fmt.Sprintf(` AND (number ILIKE $%d OR note ILIKE $%d)`, argNum, argNum)
		args = append(args, "%"+filter.Search+"%")
		argNum++
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
		return nil, shared.MapPgError(err, "payments")
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, shared.MapPgError(err, "payments")
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapPgError(err, "payments")
	}
	return payments, nil
}

// ActiveApplicationSums recomputes applied totals from ACTIVE applications.
func (r *Repository) ActiveApplicationSums(ctx context.Context, paymentIDs []int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT payment_id, COALESCE(SUM(applied_amount),0)
FROM settlement_applications WHERE payment_id = ANY($1) AND status='ACTIVE'
GROUP BY payment_id`, paymentIDs)
	if err != nil {
		return nil, shared.MapPgError(err, "payment applications")
	}
	defer rows.Close()
	sums := map[int64]decimal.Decimal{}
	for rows.Next() {
		var id int64
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, shared.MapPgError(err, "payment applications")
		}
		sums[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapPgError(err, "payment applications")
	}
	return sums, nil
}

// RepairAppliedAmounts fixes drifted accumulators in one statement.
func (r *Repository) RepairAppliedAmounts(ctx context.Context, fixes map[int64]decimal.Decimal) error {
	if len(fixes) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(fixes))
	amounts := make([]decimal.Decimal, 0, len(fixes))
	for id, amount := range fixes {
		ids = append(ids, id)
		amounts = append(amounts, amount)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE settlement_payments p SET amount_applied = f.amount, updated_at = NOW()
FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::numeric[]) AS amount) f
WHERE p.id = f.id`, ids, amounts)
	return shared.MapPgError(err, "payments")
}

// ListOutstandingInvoices returns settleable invoices with a balance due.
func (r *Repository) ListOutstandingInvoices(ctx context.Context, direction Direction) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM settlement_invoices
WHERE direction=$1 AND status IN ('OPEN','PAID') AND total_amount - amount_paid > $2
ORDER BY due_at`, direction, PaidTolerance)
	if err != nil {
		return nil, shared.MapPgError(err, "invoices")
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, shared.MapPgError(err, "invoices")
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.MapPgError(err, "invoices")
	}
	return invoices, nil
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

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO settlement_invoices
(id, direction, number, counterparty_id, currency_code, total_amount, amount_paid, status, issued_at, due_at, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9,$10,NOW(),NOW())`,
		inv.ID, inv.Direction, inv.Number, inv.CounterpartyID, inv.CurrencyCode,
		inv.TotalAmount, inv.Status, inv.IssuedAt, inv.DueAt, inv.CreatedBy)
	return shared.MapPgError(err, "invoice")
}

// LockInvoice reads an invoice under FOR UPDATE so racing applications
// serialize on its row.
func (t *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM settlement_invoices WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, shared.MapPgError(err, "invoice")
	}
	return inv, nil
}

func (t *txRepo) UpdateInvoiceBalance(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE settlement_invoices SET amount_paid=$1, status=$2, updated_at=NOW() WHERE id=$3`,
		paid, status, id)
	return shared.MapPgError(err, "invoice")
}

func (t *txRepo) SetInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE settlement_invoices SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return shared.MapPgError(err, "invoice")
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO settlement_payments
(id, direction, number, counterparty_id, payment_amount, amount_applied, status, paid_at, method, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9,$10,NOW(),NOW())`,
		p.ID, p.Direction, p.Number, p.CounterpartyID, p.PaymentAmount,
		p.Status, p.PaidAt, p.Method, p.Note, p.CreatedBy)
	return shared.MapPgError(err, "payment")
}

// LockPayment reads a payment under FOR UPDATE so applied-amount math and
// status guards work against the row the transaction will write.
func (t *txRepo) LockPayment(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM settlement_payments WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, shared.MapPgError(err, "payment")
	}
	return p, nil
}

func (t *txRepo) SetPaymentApplied(ctx context.Context, id int64, applied decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE settlement_payments SET amount_applied=$1, updated_at=NOW() WHERE id=$2`, applied, id)
	return shared.MapPgError(err, "payment")
}

func (t *txRepo) SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE settlement_payments SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return shared.MapPgError(err, "payment")
}

func (t *txRepo) InsertApplication(ctx context.Context, app Application) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO settlement_applications
(id, payment_id, invoice_id, applied_amount, unapplied_amount, applied_at, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		app.ID, app.PaymentID, app.InvoiceID, app.AppliedAmount, app.UnappliedAmount,
		app.AppliedAt, app.Status)
	return shared.MapPgError(err, "payment application")
}

func (t *txRepo) DeleteApplications(ctx context.Context, paymentID int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM settlement_applications WHERE payment_id=$1`, paymentID)
	return shared.MapPgError(err, "payment applications")
}

func (t *txRepo) MarkApplicationReversed(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE settlement_applications SET status='REVERSED' WHERE id=$1`, id)
	return shared.MapPgError(err, "payment application")
}

func (t *txRepo) GetApplication(ctx context.Context, id int64) (Application, error) {
	var app Application
	err := t.tx.QueryRow(ctx,
		`SELECT id, payment_id, invoice_id, applied_amount, unapplied_amount, applied_at, status
FROM settlement_applications WHERE id=$1 FOR UPDATE`, id).
		Scan(&app.ID, &app.PaymentID, &app.InvoiceID, &app.AppliedAmount,
			&app.UnappliedAmount, &app.AppliedAt, &app.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrApplicationNotFound
		}
		return Application{}, shared.MapPgError(err, "payment application")
	}
	return app, nil
}
