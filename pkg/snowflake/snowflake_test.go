package snowflake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerate_ConcurrentIdsAreUnique(t *testing.T) {
	req := require.New(t)
	node, err := NewNode(1)
	req.NoError(err)

	const goroutines, perGoroutine = 16, 2000
	var mu sync.Mutex
	seen := make(map[int64]struct{}, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				local = append(local, node.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
	req.Len(seen, goroutines*perGoroutine)
}

func TestGenerate_MonotonicWhenClockGoesBackwards(t *testing.T) {
	req := require.New(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	node, err := NewNode(3)
	req.NoError(err)
	node.WithClock(func() time.Time { return current })

	first := node.Generate()
	current = base.Add(-time.Second)
	second := node.Generate()
	req.Greater(second, first)
}

func TestGenerate_SequenceOverflowBorrowsNextMillisecond(t *testing.T) {
	req := require.New(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	node, err := NewNode(0)
	req.NoError(err)
	node.WithClock(func() time.Time { return fixed })

	prev := node.Generate()
	for i := 0; i < 5000; i++ {
		next := node.Generate()
		req.Greater(next, prev)
		prev = next
	}
}

func TestFormatParse(t *testing.T) {
	req := require.New(t)
	s := Format(42)
	req.Equal("msg0000000000000000042", s)

	id, err := Parse(s)
	req.NoError(err)
	req.Equal(int64(42), id)

	_, err = Parse("42")
	req.ErrorIs(err, ErrInvalidID)
	_, err = Parse("msgabc")
	req.ErrorIs(err, ErrInvalidID)
}

func TestFormat_PreservesOrder(t *testing.T) {
	req := require.New(t)
	node, err := NewNode(2)
	req.NoError(err)
	a, b := Format(node.Generate()), Format(node.Generate())
	req.Less(a, b)
}

func TestLowerBound(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	node, err := NewNode(7)
	req.NoError(err)
	node.WithClock(func() time.Time { return at })

	id := node.Generate()
	req.GreaterOrEqual(id, LowerBound(at))
	req.Less(id, LowerBound(at.Add(time.Millisecond)))
	req.Equal(at.Truncate(time.Millisecond), Time(id).Truncate(time.Millisecond))
	req.Equal(id, LowerBound(Time(id)))
}

func TestTime_DistinctWithinFrozenMillisecond(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	node, err := NewNode(nodeMax)
	req.NoError(err)
	node.WithClock(func() time.Time { return at })

	var prev time.Time
	for i := 0; i < 3*(stepMask+1); i++ {
		id := node.Generate()
		created := Time(id)
		if i > 0 {
			req.True(created.After(prev), "step %d", i)
		}
		req.Equal(id, LowerBound(created))
		req.True(Time(id - 1).Before(created))
		prev = created
	}
}

func TestLowerBound_PastLastSlotRollsToNextMillisecond(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	late := at.Add(999 * time.Microsecond)
	req.Equal(LowerBound(at.Add(time.Millisecond)), LowerBound(late))
	req.Zero(LowerBound(time.Unix(0, 0)))
}

func TestNewNode_RejectsOutOfRange(t *testing.T) {
	_, err := NewNode(nodeMax + 1)
	require.Error(t, err)
	_, err = NewNode(-1)
	require.Error(t, err)
}
