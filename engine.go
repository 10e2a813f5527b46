// Package meridian wires the document lifecycle and settlement engine: a
// single pgx pool, sequence-backed numbering, audit and approval recorders,
// and the procurement, inventory and settlement services on top of them.
package meridian

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/numbering"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/settlement"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Engine owns the database pool and exposes the domain services. It is
// constructed once at process start via Open and closed at shutdown; no
// component reaches for ambient state.
type Engine struct {
	Config       *app.Config
	Logger       *slog.Logger
	Capabilities app.Capabilities

	Procurement *procurement.Service
	Settlement  *settlement.Engine
	Inventory   *inventory.Reconciler

	pool *pgxpool.Pool
}

// duplicateTargets registers, per document type, the authoritative column
// a generated number must not collide with.
func duplicateTargets() map[string]numbering.Target {
	return map[string]numbering.Target{
		"REQUISITION":    {Table: "procurement_documents", Column: "number"},
		"AGREEMENT":      {Table: "procurement_documents", Column: "number"},
		"PURCHASE_ORDER": {Table: "procurement_documents", Column: "number"},
		"GOODS_RECEIPT":  {Table: "goods_receipts", Column: "number"},
		"AP_INVOICE":     {Table: "settlement_invoices", Column: "number"},
		"AR_INVOICE":     {Table: "settlement_invoices", Column: "number"},
		"AP_PAYMENT":     {Table: "settlement_payments", Column: "number"},
		"AR_RECEIPT":     {Table: "settlement_payments", Column: "number"},
	}
}

// Open loads configuration, connects the pool, resolves schema
// capabilities once, and wires the services.
func Open(ctx context.Context) (*Engine, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("meridian: load config: %w", err)
	}
	return OpenWith(ctx, cfg)
}

// OpenWith wires an engine against an explicit configuration. The
// configured operation timeout bounds connecting, pinging and resolving
// capabilities so a dead database fails startup instead of hanging it.
func OpenWith(ctx context.Context, cfg *app.Config) (*Engine, error) {
	logger := app.NewLogger(cfg)

	openCtx := ctx
	if cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, cfg.OperationTimeout)
		defer cancel()
	}

	pool, err := db.Open(openCtx, cfg.PGDSN, db.Options{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnLifetime: cfg.PGConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("meridian: open pool: %w", err)
	}

	caps, err := app.ResolveCapabilities(openCtx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("schema capabilities resolved",
		slog.Bool("number_tracking", caps.HasNumberTracking),
		slog.Bool("approval_log", caps.HasApprovalLog),
		slog.Bool("audit_log", caps.HasAuditLog))

	allocator := numbering.NewAllocator(duplicateTargets(), caps.HasNumberTracking)
	reconciler := inventory.NewReconciler(logger)

	var procAudit procurement.AuditPort
	var settleAudit settlement.AuditPort
	if caps.HasAuditLog {
		recorder := shared.NewAuditLogger(pool)
		procAudit = recorder
		settleAudit = recorder
	}
	var approvals procurement.ApprovalPort
	if caps.HasApprovalLog {
		approvals = shared.NewApprovalRecorder(pool, logger)
	}

	procRepo := procurement.NewRepository(pool, allocator, reconciler)
	settleRepo := settlement.NewRepository(pool, allocator)

	return &Engine{
		Config:       cfg,
		Logger:       logger,
		Capabilities: caps,
		Procurement:  procurement.NewService(procRepo, procAudit, approvals, logger),
		Settlement:   settlement.NewEngine(settleRepo, settleAudit, logger),
		Inventory:    reconciler,
		pool:         pool,
	}, nil
}

// Pool exposes the underlying connection pool for migrations and tooling.
func (e *Engine) Pool() *pgxpool.Pool {
	return e.pool
}

// Close releases the connection pool.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}
