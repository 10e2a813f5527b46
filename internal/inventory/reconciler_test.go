package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestReconcileIncrease(t *testing.T) {
	detail := ItemDetail{BoxQuantity: dec("3"), PacketQuantity: 7}
	got := reconcile(detail, dec("5"), DirectionIncrease)
	// 21 units + 5 = 26, 26/7 = 3.71 boxes
	require.True(t, got.Equal(dec("3.71")), "got %s", got)
}

func TestReconcileDecreaseClampsAtZero(t *testing.T) {
	detail := ItemDetail{BoxQuantity: dec("1"), PacketQuantity: 4}
	got := reconcile(detail, dec("100"), DirectionDecrease)
	require.True(t, got.IsZero(), "got %s", got)
}

func TestReconcileDefaultsPacketCountToOne(t *testing.T) {
	detail := ItemDetail{BoxQuantity: dec("10"), PacketQuantity: 0}
	got := reconcile(detail, dec("3"), DirectionIncrease)
	require.True(t, got.Equal(dec("13")), "got %s", got)
}

func TestApplyThenReverseRoundTrips(t *testing.T) {
	for _, packets := range []int64{1, 3, 7, 12, 48} {
		for _, delta := range []string{"1", "5", "17", "250.5"} {
			start := ItemDetail{BoxQuantity: dec("9.25"), PacketQuantity: packets}

			afterApply := start
			afterApply.BoxQuantity = reconcile(start, dec(delta), DirectionIncrease)
			afterReverse := reconcile(afterApply, dec(delta), DirectionDecrease)

			diff := afterReverse.Sub(start.BoxQuantity).Abs()
			require.True(t, diff.LessThanOrEqual(dec("0.01")),
				"packets=%d delta=%s start=%s end=%s", packets, delta, start.BoxQuantity, afterReverse)
		}
	}
}

func TestPlanBatchCompoundsRepeatedItems(t *testing.T) {
	details := map[string]ItemDetail{
		"WID-1": {ID: 11, BoxQuantity: dec("3"), PacketQuantity: 7},
	}
	plan := planBatch(details, []LineDelta{
		{ItemCode: "WID-1", Units: dec("5")},
		{ItemCode: "WID-1", Units: dec("2")},
	}, DirectionIncrease)

	require.Len(t, plan.adjustments, 2)
	// 21 + 5 = 26 -> 3.71 boxes, then 26 + 2 = 28 -> 4 boxes.
	require.True(t, plan.adjustments[0].NewBox.Equal(dec("3.71")), "got %s", plan.adjustments[0].NewBox)
	require.True(t, plan.adjustments[1].NewBox.Equal(dec("4")), "got %s", plan.adjustments[1].NewBox)

	// Only the final value reaches the write set.
	require.Equal(t, []int64{11}, plan.ids)
	require.Len(t, plan.boxes, 1)
	require.True(t, plan.boxes[0].Equal(dec("4")), "got %s", plan.boxes[0])
}

func TestPlanBatchSkipsUnknownAndEstablishesPackets(t *testing.T) {
	details := map[string]ItemDetail{
		"WID-1": {ID: 11, BoxQuantity: dec("10"), PacketQuantity: 0},
	}
	plan := planBatch(details, []LineDelta{
		{ItemCode: "GHOST", Units: dec("1")},
		{ItemCode: "WID-1", Units: dec("6"), PacketHint: 3},
	}, DirectionIncrease)

	require.Len(t, plan.adjustments, 2)
	require.True(t, plan.adjustments[0].Skipped)
	require.Equal(t, []int64{11}, plan.packetIDs)
	require.Equal(t, []int64{3}, plan.packetCounts)
	// 10 boxes of 3 = 30 units, + 6 = 36 -> 12 boxes.
	require.True(t, plan.boxes[0].Equal(dec("12")), "got %s", plan.boxes[0])
}

func TestEstablishPackets(t *testing.T) {
	require.Equal(t, int64(12), establishPackets(12))
	require.Equal(t, int64(1), establishPackets(0))
	require.Equal(t, int64(1), establishPackets(-4))
}

func TestDirectionFlipped(t *testing.T) {
	require.Equal(t, DirectionDecrease, DirectionIncrease.Flipped())
	require.Equal(t, DirectionIncrease, DirectionDecrease.Flipped())
}

func TestTotalUnits(t *testing.T) {
	require.True(t, ItemDetail{BoxQuantity: dec("2.5"), PacketQuantity: 4}.TotalUnits().Equal(dec("10")))
	require.True(t, ItemDetail{BoxQuantity: dec("3"), PacketQuantity: 0}.TotalUnits().Equal(dec("3")))
}
