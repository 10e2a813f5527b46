package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// GetActiveDetail returns the single open detail row for an item.
func GetActiveDetail(ctx context.Context, q db.Querier, itemCode string) (ItemDetail, error) {
	var det ItemDetail
	err := q.QueryRow(ctx,
		`SELECT id, item_code, box_quantity, packet_quantity, version, effective_start_date
FROM inventory_item_details WHERE item_code = $1 AND is_active AND effective_end_date IS NULL`,
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

// ReviseDetail closes the active row and inserts the next version in the
// caller's transaction, preserving the one-active-row invariant. The packet
// count is carried forward unchanged; it is fixed once established.
func ReviseDetail(ctx context.Context, q db.Querier, itemCode string, boxQuantity decimal.Decimal, packetQuantity int64) (ItemDetail, error) {
	current, err := lockActiveDetail(ctx, q, itemCode)
	if err != nil {
		return ItemDetail{}, err
	}
	if packetQuantity > 0 && current.PacketQuantity > 0 && packetQuantity != current.PacketQuantity {
		return ItemDetail{}, ErrPacketImmutable
	}
	packets := current.PacketQuantity
	if packets < 1 {
		packets = establishPackets(packetQuantity)
	}

	if _, err := q.Exec(ctx,
		`UPDATE inventory_item_details SET is_active = FALSE, effective_end_date = NOW() WHERE id = $1`,
		current.ID); err != nil {
		return ItemDetail{}, shared.MapPgError(err, "inventory item detail "+itemCode)
	}

	next := ItemDetail{
		ItemCode:       itemCode,
		BoxQuantity:    boxQuantity.Round(2),
		PacketQuantity: packets,
		Version:        current.Version + 1,
		IsActive:       true,
	}
	err = q.QueryRow(ctx,
		`INSERT INTO inventory_item_details (item_code, box_quantity, packet_quantity, version, effective_start_date, is_active)
VALUES ($1, $2, $3, $4, NOW(), TRUE) RETURNING id, effective_start_date`,
		next.ItemCode, next.BoxQuantity, next.PacketQuantity, next.Version).Scan(&next.ID, &next.EffectiveStart)
	if err != nil {
		return ItemDetail{}, shared.MapPgError(err, "inventory item detail "+itemCode)
	}
	return next, nil
}
