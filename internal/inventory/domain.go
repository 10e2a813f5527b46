package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Direction of a stock reconciliation.
type Direction string

const (
	DirectionIncrease Direction = "INCREASE"
	DirectionDecrease Direction = "DECREASE"
)

// Flipped returns the opposite direction, used for reversals.
func (d Direction) Flipped() Direction {
	if d == DirectionIncrease {
		return DirectionDecrease
	}
	return DirectionIncrease
}

// ItemDetail is one versioned attribute row for an inventory item. Exactly
// one row per item is active (is_active and open-ended) at any time.
type ItemDetail struct {
	ID             int64
	ItemCode       string
	BoxQuantity    decimal.Decimal
	PacketQuantity int64
	Version        int
	EffectiveStart time.Time
	EffectiveEnd   *time.Time
	IsActive       bool
}

// TotalUnits returns box_quantity x packets_per_box.
func (d ItemDetail) TotalUnits() decimal.Decimal {
	packets := d.PacketQuantity
	if packets < 1 {
		packets = 1
	}
	return d.BoxQuantity.Mul(decimal.NewFromInt(packets))
}

// LineDelta is one item's unit change within a batch reconciliation.
// PacketHint establishes packets-per-box the first time the item is seen
// with an unset packet quantity.
type LineDelta struct {
	ItemCode   string
	Units      decimal.Decimal
	PacketHint int64
}

// Adjustment reports the outcome of reconciling one item. Skipped items had
// no active detail row; they are logged, never fatal.
type Adjustment struct {
	ItemCode    string
	OldBox      decimal.Decimal
	NewBox      decimal.Decimal
	PacketCount int64
	Skipped     bool
}

var (
	// ErrDetailNotFound indicates no active detail row for an item.
	ErrDetailNotFound = shared.NotFoundf("inventory item detail not found")
	// ErrPacketImmutable rejects changes to an established packet count.
	ErrPacketImmutable = shared.Conflictf("packet quantity is fixed once established")
)
