package numbering

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDocumentNumberConfigFormat(t *testing.T) {
	cfg := DocumentNumberConfig{Prefix: "PO-", Suffix: "/HQ", NextNumber: 42, PaddingWidth: 6}
	require.Equal(t, "PO-000042/HQ", cfg.Format())

	cfg = DocumentNumberConfig{Prefix: "INV", NextNumber: 1234567, PaddingWidth: 4}
	require.Equal(t, "INV1234567", cfg.Format(), "padding never truncates")
}

func TestSequenceNextValue(t *testing.T) {
	require.Equal(t, int64(11), Sequence{CurrentValue: 10, IncrementBy: 1}.NextValue())
	require.Equal(t, int64(15), Sequence{CurrentValue: 10, IncrementBy: 5}.NextValue())
	require.Equal(t, int64(11), Sequence{CurrentValue: 10}.NextValue(), "zero increment defaults to 1")
}

func TestTrackedNumberRoundTrip(t *testing.T) {
	n := trackedNumber("GR", 2026, 7)
	require.Equal(t, "GR-2026-0007", n)
	require.Equal(t, int64(7), numericSuffix(n))
	require.Equal(t, int64(0), numericSuffix("GR-no-digits"))
	require.Equal(t, int64(10001), numericSuffix(trackedNumber("GR", 2026, 10001)))
}

func TestAllocateTrackedRequiresTrackingTable(t *testing.T) {
	a := NewAllocator(nil, false)
	_, err := a.AllocateTracked(context.Background(), nil, "GR", 2026)
	require.ErrorIs(t, err, ErrTrackingUnavailable)
}

// memCounter serializes allocations the way the row lock does, so the
// uniqueness property can be exercised with many concurrent callers.
type memCounter struct {
	mu  sync.Mutex
	seq Sequence
}

func (c *memCounter) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.seq.NextValue()
	c.seq.CurrentValue = v
	return v
}

func TestConcurrentAllocationYieldsDistinctIncreasingValues(t *testing.T) {
	const n = 500
	counter := &memCounter{seq: Sequence{Name: "procurement_documents", IncrementBy: 1}}

	values := make([]int64, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			values[i] = counter.next()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	seen := make(map[int64]struct{}, n)
	for idx, v := range values {
		_, dup := seen[v]
		require.False(t, dup, "value %d issued twice", v)
		seen[v] = struct{}{}
		if idx > 0 {
			require.Equal(t, values[idx-1]+1, v, "no gaps smaller than increment_by")
		}
	}
	require.Len(t, seen, n)
}
