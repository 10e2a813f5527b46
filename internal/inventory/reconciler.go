package inventory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Reconciler converts accepted/sold unit quantities into box stock levels.
// All methods take the caller's Querier so reconciliation joins the
// surrounding transaction; detail rows are locked FOR UPDATE for the
// duration.
type Reconciler struct {
	logger *slog.Logger
}

// NewReconciler builds a Reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// reconcile computes the new box quantity for a delta. Fractional boxes are
// kept (rounded to 2 decimals) rather than truncated, so apply followed by
// reverse lands back on the starting quantity. Decreases clamp at zero.
func reconcile(detail ItemDetail, deltaUnits decimal.Decimal, dir Direction) decimal.Decimal {
	packets := detail.PacketQuantity
	if packets < 1 {
		packets = 1
	}
	perBox := decimal.NewFromInt(packets)
	total := detail.BoxQuantity.Mul(perBox)
	if dir == DirectionIncrease {
		total = total.Add(deltaUnits)
	} else {
		total = total.Sub(deltaUnits)
		if total.IsNegative() {
			total = decimal.Zero
		}
	}
	return total.Div(perBox).Round(2)
}

// establishPackets picks the one-time packet count for an item whose detail
// row has none yet.
func establishPackets(hint int64) int64 {
	if hint >= 1 {
		return hint
	}
	return 1
}

// Apply reconciles a single item. A missing active detail row is logged and
// skipped; it never aborts the caller's transaction.
func (r *Reconciler) Apply(ctx context.Context, q db.Querier, d LineDelta, dir Direction) (Adjustment, error) {
	detail, err := lockActiveDetail(ctx, q, d.ItemCode)
	if err != nil {
		if shared.IsKind(err, shared.KindNotFound) {
			r.logger.Warn("inventory detail missing, skipping reconciliation", slog.String("item_code", d.ItemCode))
			return Adjustment{ItemCode: d.ItemCode, Skipped: true}, nil
		}
		return Adjustment{}, err
	}

	if detail.PacketQuantity < 1 {
		detail.PacketQuantity = establishPackets(d.PacketHint)
		if _, err := q.Exec(ctx,
			`UPDATE inventory_item_details SET packet_quantity = $1 WHERE id = $2`,
			detail.PacketQuantity, detail.ID); err != nil {
			return Adjustment{}, shared.MapPgError(err, "inventory item detail "+d.ItemCode)
		}
	}

	newBox := reconcile(detail, d.Units, dir)
	if _, err := q.Exec(ctx,
		`UPDATE inventory_item_details SET box_quantity = $1 WHERE id = $2`,
		newBox, detail.ID); err != nil {
		return Adjustment{}, shared.MapPgError(err, "inventory item detail "+d.ItemCode)
	}
	return Adjustment{ItemCode: d.ItemCode, OldBox: detail.BoxQuantity, NewBox: newBox, PacketCount: detail.PacketQuantity}, nil
}

// ApplyBatch reconciles a document's full line set: all referenced items are
// resolved in one locked lookup and written back in one multi-row update.
func (r *Reconciler) ApplyBatch(ctx context.Context, q db.Querier, deltas []LineDelta, dir Direction) ([]Adjustment, error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(deltas))
	for _, d := range deltas {
		codes = append(codes, d.ItemCode)
	}

	rows, err := q.Query(ctx,
		`SELECT id, item_code, box_quantity, packet_quantity FROM inventory_item_details
WHERE item_code = ANY($1) AND is_active AND effective_end_date IS NULL
ORDER BY item_code FOR UPDATE`, codes)
	if err != nil {
		return nil, shared.MapPgError(err, "inventory item details")
	}
	details := map[string]ItemDetail{}
	for rows.Next() {
		var det ItemDetail
		if err := rows.Scan(&det.ID, &det.ItemCode, &det.BoxQuantity, &det.PacketQuantity); err != nil {
			rows.Close()
			return nil, shared.MapPgError(err, "inventory item details")
		}
		details[det.ItemCode] = det
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, shared.MapPgError(err, "inventory item details")
	}

	plan := planBatch(details, deltas, dir)
	for _, adj := range plan.adjustments {
		if adj.Skipped {
			r.logger.Warn("inventory detail missing, skipping reconciliation", slog.String("item_code", adj.ItemCode))
		}
	}
	for i, id := range plan.packetIDs {
		if _, err := q.Exec(ctx,
			`UPDATE inventory_item_details SET packet_quantity = $1 WHERE id = $2`,
			plan.packetCounts[i], id); err != nil {
			return nil, shared.MapPgError(err, "inventory item details")
		}
	}

	if len(plan.ids) > 0 {
		if _, err := q.Exec(ctx,
			`UPDATE inventory_item_details AS d SET box_quantity = u.box
FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::numeric[]) AS box) AS u
WHERE d.id = u.id`, plan.ids, plan.boxes); err != nil {
			return nil, shared.MapPgError(err, "inventory item details")
		}
	}
	return plan.adjustments, nil
}

// batchPlan is the write set for one ApplyBatch call. ids and boxes are
// parallel and hold exactly one row per detail, so the multi-row update
// never carries two source rows for the same id.
type batchPlan struct {
	adjustments  []Adjustment
	ids          []int64
	boxes        []decimal.Decimal
	packetIDs    []int64
	packetCounts []int64
}

// planBatch folds deltas onto the locked details. Deltas that share an item
// code compound in order; the plan keeps only the final box value for each
// detail row.
func planBatch(details map[string]ItemDetail, deltas []LineDelta, dir Direction) batchPlan {
	var plan batchPlan
	slot := map[int64]int{}
	for _, d := range deltas {
		detail, ok := details[d.ItemCode]
		if !ok {
			plan.adjustments = append(plan.adjustments, Adjustment{ItemCode: d.ItemCode, Skipped: true})
			continue
		}
		if detail.PacketQuantity < 1 {
			detail.PacketQuantity = establishPackets(d.PacketHint)
			plan.packetIDs = append(plan.packetIDs, detail.ID)
			plan.packetCounts = append(plan.packetCounts, detail.PacketQuantity)
		}
		newBox := reconcile(detail, d.Units, dir)
		plan.adjustments = append(plan.adjustments, Adjustment{ItemCode: d.ItemCode, OldBox: detail.BoxQuantity, NewBox: newBox, PacketCount: detail.PacketQuantity})
		if i, seen := slot[detail.ID]; seen {
			plan.boxes[i] = newBox
		} else {
			slot[detail.ID] = len(plan.ids)
			plan.ids = append(plan.ids, detail.ID)
			plan.boxes = append(plan.boxes, newBox)
		}
		detail.BoxQuantity = newBox
		details[d.ItemCode] = detail
	}
	return plan
}

// Reverse undoes a prior batch exactly: same computation, direction flipped.
func (r *Reconciler) Reverse(ctx context.Context, q db.Querier, deltas []LineDelta, dir Direction) ([]Adjustment, error) {
	return r.ApplyBatch(ctx, q, deltas, dir.Flipped())
}

func lockActiveDetail(ctx context.Context, q db.Querier, itemCode string) (ItemDetail, error) {
	var det ItemDetail
	err := q.QueryRow(ctx,
		`SELECT id, item_code, box_quantity, packet_quantity, version, effective_start_date
FROM inventory_item_details WHERE item_code = $1 AND is_active AND effective_end_date IS NULL FOR UPDATE`,
		itemCode).Scan(&det.ID, &det.ItemCode, &det.BoxQuantity, &det.PacketQuantity, &det.Version, &det.EffectiveStart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ItemDetail{}, ErrDetailNotFound
		}
		return ItemDetail{}, shared.MapPgError(err, "inventory item detail "+itemCode)
	}
	det.IsActive = true
	return det, nil
}
