package settlement

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Sequence names owned by this package.
const (
	seqInvoices     = "settlement_invoices"
	seqPayments     = "settlement_payments"
	seqApplications = "settlement_applications"
)

// RepositoryPort describes repository operations used by Engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	GetPayment(ctx context.Context, id int64) (Payment, []Application, error)
	ListPayments(ctx context.Context, filter ListPaymentsFilter) ([]Payment, error)
	ActiveApplicationSums(ctx context.Context, paymentIDs []int64) (map[int64]decimal.Decimal, error)
	RepairAppliedAmounts(ctx context.Context, fixes map[int64]decimal.Decimal) error
	ListOutstandingInvoices(ctx context.Context, direction Direction) ([]Invoice, error)
}

// TxRepository exposes the operations available inside one transaction.
// Invoice reads go through LockInvoice so racing applications serialize on
// the invoice row.
type TxRepository interface {
	NextSequence(ctx context.Context, name string) (int64, error)
	GenerateNumber(ctx context.Context, docType string) (string, error)
	EnsureUniqueNumber(ctx context.Context, docType, number string) error

	InsertInvoice(ctx context.Context, inv Invoice) error
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoiceBalance(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error
	SetInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error

	InsertPayment(ctx context.Context, p Payment) error
	LockPayment(ctx context.Context, id int64) (Payment, error)
	SetPaymentApplied(ctx context.Context, id int64, applied decimal.Decimal) error
	SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error

	InsertApplication(ctx context.Context, app Application) error
	DeleteApplications(ctx context.Context, paymentID int64) error
	MarkApplicationReversed(ctx context.Context, id int64) error
	GetApplication(ctx context.Context, id int64) (Application, error)
}

// AuditPort records before/after snapshots.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine applies payment and receipt funds against invoices and keeps the
// paid/applied/due aggregates consistent.
type Engine struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewEngine constructs the settlement engine.
func NewEngine(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, audit: audit, logger: logger}
}

// CreateInvoice persists an invoice in DRAFT.
func (e *Engine) CreateInvoice(ctx context.Context, actorID int64, input CreateInvoiceInput) (Invoice, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Invoice{}, err
	}
	if !input.Direction.Valid() {
		return Invoice{}, shared.Validationf("unknown direction %q", input.Direction)
	}
	if !input.TotalAmount.IsPositive() {
		return Invoice{}, shared.Validationf("total amount must be positive")
	}

	inv := Invoice{
		Direction:      input.Direction,
		CounterpartyID: input.CounterpartyID,
		CurrencyCode:   strings.ToUpper(input.CurrencyCode),
		TotalAmount:    input.TotalAmount.Round(2),
		Status:         InvoiceDraft,
		IssuedAt:       defaultTime(input.IssuedAt),
		DueAt:          defaultTime(input.DueAt),
		CreatedBy:      actorID,
	}
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.NextSequence(ctx, seqInvoices)
		if err != nil {
			return err
		}
		inv.ID = id
		if input.Number != "" {
			if err := tx.EnsureUniqueNumber(ctx, inv.Direction.InvoiceDocType(), input.Number); err != nil {
				return err
			}
			inv.Number = input.Number
		} else {
			number, err := tx.GenerateNumber(ctx, inv.Direction.InvoiceDocType())
			if err != nil {
				return err
			}
			inv.Number = number
		}
		return tx.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}

	e.recordAudit(ctx, actorID, "INVOICE_CREATE", inv.ID, nil, snapshotInvoice(inv))
	return inv, nil
}

// PostInvoice opens a draft invoice for settlement.
func (e *Engine) PostInvoice(ctx context.Context, actorID, id int64) (Invoice, error) {
	inv, err := e.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != InvoiceDraft {
		return Invoice{}, shared.Conflictf("invoice %s is not a draft", inv.Number)
	}
	before := snapshotInvoice(inv)
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetInvoiceStatus(ctx, id, InvoiceOpen)
	})
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = InvoiceOpen
	e.recordAudit(ctx, actorID, "INVOICE_POST", id, before, snapshotInvoice(inv))
	return inv, nil
}

// VoidInvoice marks an unpaid invoice VOID. Funds already committed block
// the void; reverse the applications first.
func (e *Engine) VoidInvoice(ctx context.Context, actorID, id int64) error {
	inv, err := e.repo.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if inv.AmountPaid.IsPositive() {
		return shared.Conflictf("invoice %s has committed funds", inv.Number)
	}
	if inv.Status == InvoiceVoid || inv.Status == InvoiceCancelled {
		return shared.Conflictf("invoice %s is already terminal", inv.Number)
	}
	before := snapshotInvoice(inv)
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetInvoiceStatus(ctx, id, InvoiceVoid)
	})
	if err != nil {
		return err
	}
	inv.Status = InvoiceVoid
	e.recordAudit(ctx, actorID, "INVOICE_VOID", id, before, snapshotInvoice(inv))
	return nil
}

// CreatePayment persists a payment or receipt with its applications. With
// Commit false the payment stays DRAFT and its applications reserve intent
// without touching invoice balances; with Commit true balances commit in
// the same transaction.
func (e *Engine) CreatePayment(ctx context.Context, actorID int64, input CreatePaymentInput) (Payment, []Application, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Payment{}, nil, err
	}
	if !input.Direction.Valid() {
		return Payment{}, nil, shared.Validationf("unknown direction %q", input.Direction)
	}
	if !input.PaymentAmount.IsPositive() {
		return Payment{}, nil, shared.Validationf("payment amount must be positive")
	}

	p := Payment{
		Direction:      input.Direction,
		CounterpartyID: input.CounterpartyID,
		PaymentAmount:  input.PaymentAmount.Round(2),
		Status:         PaymentDraft,
		PaidAt:         defaultTime(input.PaidAt),
		Method:         input.Method,
		Note:           input.Note,
		CreatedBy:      actorID,
	}
	if input.Commit {
		p.Status = input.Direction.CommittedStatus()
	}

	var apps []Application
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.NextSequence(ctx, seqPayments)
		if err != nil {
			return err
		}
		p.ID = id
		if input.Number != "" {
			if err := tx.EnsureUniqueNumber(ctx, p.Direction.PaymentDocType(), input.Number); err != nil {
				return err
			}
			p.Number = input.Number
		} else {
			number, err := tx.GenerateNumber(ctx, p.Direction.PaymentDocType())
			if err != nil {
				return err
			}
			p.Number = number
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		apps, err = e.applyAll(ctx, tx, &p, input.Applications, input.Commit)
		return err
	})
	if err != nil {
		return Payment{}, nil, err
	}

	e.recordAudit(ctx, actorID, "PAYMENT_CREATE", p.ID, nil, snapshotPayment(p))
	return p, apps, nil
}

// PromoteDraft commits a draft payment. Existing applications are deleted
// and recreated from the submitted set against current invoice state, so a
// long-lived draft never commits against stale balances.
func (e *Engine) PromoteDraft(ctx context.Context, actorID, id int64, applications []ApplicationInput) (Payment, []Application, error) {
	var (
		p      Payment
		before map[string]any
		apps   []Application
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.Status.Committed() {
			return ErrCannotModifyCommitted
		}
		before = snapshotPayment(p)
		if err := tx.DeleteApplications(ctx, p.ID); err != nil {
			return err
		}
		p.AmountApplied = decimal.Zero
		apps, err = e.applyAll(ctx, tx, &p, applications, true)
		if err != nil {
			return err
		}
		p.Status = p.Direction.CommittedStatus()
		return tx.SetPaymentStatus(ctx, p.ID, p.Status)
	})
	if err != nil {
		return Payment{}, nil, err
	}

	e.recordAudit(ctx, actorID, "PAYMENT_PROMOTE", p.ID, before, snapshotPayment(p))
	return p, apps, nil
}

// AddApplication allocates more of an existing payment to one invoice. On
// a committed payment the invoice balance commits immediately; on a draft
// the allocation only reserves intent.
func (e *Engine) AddApplication(ctx context.Context, actorID, paymentID, invoiceID int64, amount decimal.Decimal) (Application, error) {
	var (
		app    Application
		p      Payment
		before map[string]any
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		before = snapshotPayment(p)
		apps, err := e.applyAll(ctx, tx, &p, []ApplicationInput{{InvoiceID: invoiceID, Amount: amount}}, p.Status.Committed())
		if err != nil {
			return err
		}
		app = apps[0]
		return nil
	})
	if err != nil {
		return Application{}, err
	}

	e.recordAudit(ctx, actorID, "APPLICATION_ADD", app.ID, before, snapshotPayment(p))
	return app, nil
}

// ReverseApplication marks an application REVERSED and, when the payment
// is committed, releases the funds back from the invoice.
func (e *Engine) ReverseApplication(ctx context.Context, actorID, applicationID int64) error {
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.Status == ApplicationReversed {
			return shared.Conflictf("application %d is already reversed", applicationID)
		}
		// The applied total must come from the locked row, not a pool
		// snapshot, or a racing application leaks into the subtraction.
		p, err := tx.LockPayment(ctx, app.PaymentID)
		if err != nil {
			return err
		}
		if err := tx.MarkApplicationReversed(ctx, applicationID); err != nil {
			return err
		}
		if err := tx.SetPaymentApplied(ctx, p.ID, p.AmountApplied.Sub(app.AppliedAmount)); err != nil {
			return err
		}
		if !p.Status.Committed() {
			return nil
		}
		inv, err := tx.LockInvoice(ctx, app.InvoiceID)
		if err != nil {
			return err
		}
		paid := inv.AmountPaid.Sub(app.AppliedAmount)
		return tx.UpdateInvoiceBalance(ctx, inv.ID, paid, deriveInvoiceStatus(inv.Status, inv.TotalAmount, paid))
	})
	if err != nil {
		return err
	}
	e.recordAudit(ctx, actorID, "APPLICATION_REVERSE", applicationID, nil, nil)
	return nil
}

// DeletePayment soft-deletes a payment. Active applications block the
// delete; with none left the payment demotes to DRAFT, the only
// non-committed state it can hold.
func (e *Engine) DeletePayment(ctx context.Context, actorID, id int64) error {
	p, apps, err := e.repo.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if app.Status == ApplicationActive {
			return ErrHasActiveApplications
		}
	}
	before := snapshotPayment(p)
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetPaymentApplied(ctx, id, decimal.Zero); err != nil {
			return err
		}
		return tx.SetPaymentStatus(ctx, id, PaymentDraft)
	})
	if err != nil {
		return err
	}
	p.Status = PaymentDraft
	p.AmountApplied = decimal.Zero
	e.recordAudit(ctx, actorID, "PAYMENT_DELETE", id, before, snapshotPayment(p))
	return nil
}

// GetPayment returns a payment with its applications.
func (e *Engine) GetPayment(ctx context.Context, id int64) (Payment, []Application, error) {
	return e.repo.GetPayment(ctx, id)
}

// GetInvoice returns one invoice.
func (e *Engine) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return e.repo.GetInvoice(ctx, id)
}

// ListPayments lists payments and read-repairs amount_applied: the stored
// accumulator is recomputed from ACTIVE applications and drift is fixed in
// one batched update. Past partial failures heal on the next read.
func (e *Engine) ListPayments(ctx context.Context, filter ListPaymentsFilter) ([]Payment, error) {
	if filter.Status != "" && filter.Status != PaymentDraft && !filter.Status.Committed() {
		return nil, ErrInvalidStatus
	}
	payments, err := e.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return payments, nil
	}

	ids := make([]int64, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.ID)
	}
	sums, err := e.repo.ActiveApplicationSums(ctx, ids)
	if err != nil {
		return nil, err
	}
	fixes := map[int64]decimal.Decimal{}
	for i, p := range payments {
		actual := sums[p.ID]
		if !p.AmountApplied.Equal(actual) {
			fixes[p.ID] = actual
			payments[i].AmountApplied = actual
		}
	}
	if len(fixes) > 0 {
		if err := e.repo.RepairAppliedAmounts(ctx, fixes); err != nil {
			e.logger.Error("repair applied amounts", slog.Any("error", err))
		} else {
			e.logger.Info("repaired applied amounts", slog.Int("payments", len(fixes)))
		}
	}
	return payments, nil
}

// CalculateAging buckets outstanding invoice balances by days overdue
// relative to asOf: not yet due, then 30-day bands up to 120, then older.
func (e *Engine) CalculateAging(ctx context.Context, direction Direction, asOf time.Time) (AgingBuckets, error) {
	if !direction.Valid() {
		return AgingBuckets{}, shared.Validationf("unknown direction %q", direction)
	}
	asOf = defaultTime(asOf)
	invoices, err := e.repo.ListOutstandingInvoices(ctx, direction)
	if err != nil {
		return AgingBuckets{}, err
	}

	buckets := AgingBuckets{AsOf: asOf}
	for _, inv := range invoices {
		due := inv.AmountDue()
		if due.LessThanOrEqual(PaidTolerance) {
			continue
		}
		buckets.Total = buckets.Total.Add(due)
		buckets.InvoiceIDs = append(buckets.InvoiceIDs, inv.ID)
		days := int(asOf.Sub(inv.DueAt).Hours() / 24)
		switch {
		case days <= 0:
			buckets.Current = buckets.Current.Add(due)
		case days <= 30:
			buckets.Days30 = buckets.Days30.Add(due)
		case days <= 60:
			buckets.Days60 = buckets.Days60.Add(due)
		case days <= 90:
			buckets.Days90 = buckets.Days90.Add(due)
		case days <= 120:
			buckets.Days120 = buckets.Days120.Add(due)
		default:
			buckets.Over120 = buckets.Over120.Add(due)
		}
	}
	return buckets, nil
}

// applyAll runs the application algorithm for each input line, mutating
// the payment's applied accumulator. With commit true each invoice's
// balance and status update under its row lock.
func (e *Engine) applyAll(ctx context.Context, tx TxRepository, p *Payment, inputs []ApplicationInput, commit bool) ([]Application, error) {
	remaining := p.PaymentAmount.Sub(p.AmountApplied)
	apps := make([]Application, 0, len(inputs))
	for _, in := range inputs {
		if !in.Amount.IsPositive() {
			return nil, shared.Validationf("application amount must be positive")
		}
		amount := in.Amount.Round(2)
		if amount.GreaterThan(remaining) {
			return nil, ErrOverApplication
		}
		inv, err := tx.LockInvoice(ctx, in.InvoiceID)
		if err != nil {
			return nil, err
		}
		if commit && !inv.Status.Settleable() {
			return nil, ErrNotSettleable
		}
		due := inv.AmountDue()
		if amount.GreaterThan(due) {
			return nil, ErrOverApplication
		}

		unapplied := due.Sub(amount)
		if unapplied.IsNegative() {
			unapplied = decimal.Zero
		}
		id, err := tx.NextSequence(ctx, seqApplications)
		if err != nil {
			return nil, err
		}
		app := Application{
			ID:              id,
			PaymentID:       p.ID,
			InvoiceID:       in.InvoiceID,
			AppliedAmount:   amount,
			UnappliedAmount: unapplied,
			AppliedAt:       time.Now(),
			Status:          ApplicationActive,
		}
		if err := tx.InsertApplication(ctx, app); err != nil {
			return nil, err
		}
		if commit {
			paid := inv.AmountPaid.Add(amount)
			if err := tx.UpdateInvoiceBalance(ctx, inv.ID, paid, deriveInvoiceStatus(inv.Status, inv.TotalAmount, paid)); err != nil {
				return nil, err
			}
		}
		remaining = remaining.Sub(amount)
		p.AmountApplied = p.AmountApplied.Add(amount)
		apps = append(apps, app)
	}
	// Persist even an unchanged or zero total so a promote that replaces
	// the application set with nothing still clears amount_applied.
	if err := tx.SetPaymentApplied(ctx, p.ID, p.AmountApplied); err != nil {
		return nil, err
	}
	return apps, nil
}

func (e *Engine) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, before, after map[string]any) shared.SideEffect {
	effect := shared.SideEffect{Name: "audit_trail"}
	if e.audit == nil {
		return effect
	}
	effect.Err = e.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "settlement",
		EntityID: strconv.FormatInt(entityID, 10),
		Before:   before,
		After:    after,
	})
	if effect.Err != nil {
		e.logger.Error("record audit", slog.String("action", action), slog.Any("error", effect.Err))
	}
	return effect
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}

// snapshotInvoice maps an invoice to its loggable audit representation.
func snapshotInvoice(inv Invoice) map[string]any {
	return map[string]any{
		"direction":       string(inv.Direction),
		"number":          inv.Number,
		"counterparty_id": inv.CounterpartyID,
		"total_amount":    inv.TotalAmount.String(),
		"amount_paid":     inv.AmountPaid.String(),
		"status":          string(inv.Status),
	}
}

// snapshotPayment maps a payment to its loggable audit representation.
func snapshotPayment(p Payment) map[string]any {
	return map[string]any{
		"direction":       string(p.Direction),
		"number":          p.Number,
		"counterparty_id": p.CounterpartyID,
		"payment_amount":  p.PaymentAmount.String(),
		"amount_applied":  p.AmountApplied.String(),
		"status":          string(p.Status),
	}
}
