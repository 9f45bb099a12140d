package census

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// densityCounter reports counts proportional to elapsed time, modeling a
// uniform event density over the range.
type densityCounter struct {
	perDay float64
	calls  int
}

func (c *densityCounter) Count(_ context.Context, start, end time.Time) (int, error) {
	c.calls++
	return int(c.perDay * end.Sub(start).Hours() / 24), nil
}

func TestBisect_AcceptsRangeUnderCap(t *testing.T) {
	s := Slice{Start: date(2023, time.January, 1), End: date(2023, time.February, 1)}
	counter := &densityCounter{perDay: 10} // ~310 events, under the cap

	b := &Bisector{}
	out, err := b.Bisect(context.Background(), counter, s)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, s, out[0])
	assert.Equal(t, 1, counter.calls)
}

func TestBisect_SplitsMonthWith1500Events(t *testing.T) {
	s := Slice{Start: date(2023, time.January, 1), End: date(2023, time.February, 1)}
	counter := &densityCounter{perDay: 1500.0 / 31} // ~1500 events in the month

	b := &Bisector{}
	out, err := b.Bisect(context.Background(), counter, s)
	require.NoError(t, err)
	require.Len(t, out, 2, "one halving suffices: each half holds ~750")

	// Halves tile the original range exactly.
	assert.Equal(t, s.Start, out[0].Start)
	assert.Equal(t, out[0].End, out[1].Start)
	assert.Equal(t, s.End, out[1].End)
	for _, sub := range out {
		assert.False(t, sub.Undercounted)
	}
}

func TestBisect_OutputTilesRangeUnderSkew(t *testing.T) {
	// All of the month's volume lands in the first two days; the midpoint
	// is still temporal, so halving converges and coverage stays exact.
	s := Slice{Start: date(2023, time.January, 1), End: date(2023, time.February, 1)}
	burst := func(_ context.Context, start, end time.Time) (int, error) {
		burstEnd := date(2023, time.January, 3)
		if start.Before(burstEnd) && end.After(s.Start) {
			overlap := minTime(end, burstEnd).Sub(maxTime(start, s.Start))
			if overlap > 0 {
				return int(2500 * overlap.Hours() / 48), nil
			}
		}
		return 0, nil
	}

	b := &Bisector{}
	out, err := b.Bisect(context.Background(), counterFunc(burst), s)
	require.NoError(t, err)
	require.True(t, len(out) > 1)

	assert.Equal(t, s.Start, out[0].Start)
	assert.Equal(t, s.End, out[len(out)-1].End)
	for i := 1; i < len(out); i++ {
		assert.Equal(t, out[i-1].End, out[i].Start, "accepted slices must be contiguous")
	}
}

func TestBisect_MinGranularityMarksUndercounted(t *testing.T) {
	s := Slice{Start: date(2023, time.January, 1), End: date(2023, time.January, 2)}
	counter := &densityCounter{perDay: 5000} // a day that can never fit under the cap

	b := &Bisector{}
	out, err := b.Bisect(context.Background(), counter, s)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Undercounted)
	assert.Equal(t, s.Start, out[0].Start)
	assert.Equal(t, s.End, out[0].End)
}

func TestBisect_ErrorCarriesFailingRange(t *testing.T) {
	s := Slice{Start: date(2023, time.January, 1), End: date(2023, time.February, 1)}
	boom := errors.New("boom")
	failing := counterFunc(func(_ context.Context, start, end time.Time) (int, error) {
		// Fail only once the right half is probed.
		if start.After(s.Start) {
			return 0, boom
		}
		return 2000, nil
	})

	b := &Bisector{}
	_, err := b.Bisect(context.Background(), failing, s)
	require.Error(t, err)

	var re *RangeError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, boom)
	assert.True(t, re.Range.Start.After(s.Start), "error should name the failing sub-range")
}

// counterFunc adapts a function to the Counter interface.
type counterFunc func(ctx context.Context, start, end time.Time) (int, error)

func (f counterFunc) Count(ctx context.Context, start, end time.Time) (int, error) {
	return f(ctx, start, end)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
