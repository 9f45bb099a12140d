package census

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthSlices_TilesWindowExactly(t *testing.T) {
	since := date(2023, time.January, 1)
	until := date(2023, time.July, 1)

	slices, err := MonthSlices(since, until, 1)
	require.NoError(t, err)
	require.Len(t, slices, 6)

	assert.Equal(t, since, slices[0].Start)
	assert.Equal(t, until, slices[len(slices)-1].End)
	for i := 1; i < len(slices); i++ {
		assert.Equal(t, slices[i-1].End, slices[i].Start, "slices must be contiguous")
	}
}

func TestMonthSlices_ClampsFinalSlice(t *testing.T) {
	since := date(2023, time.January, 1)
	until := date(2023, time.February, 15)

	slices, err := MonthSlices(since, until, 1)
	require.NoError(t, err)
	require.Len(t, slices, 2)
	assert.Equal(t, until, slices[1].End)
}

func TestMonthSlices_MultiMonthGranularity(t *testing.T) {
	since := date(2020, time.January, 1)
	until := date(2021, time.January, 1)

	slices, err := MonthSlices(since, until, 6)
	require.NoError(t, err)
	require.Len(t, slices, 2)
	assert.Equal(t, date(2020, time.July, 1), slices[0].End)
}

func TestMonthSlices_RejectsBadInput(t *testing.T) {
	_, err := MonthSlices(date(2023, time.January, 1), date(2023, time.February, 1), 0)
	assert.Error(t, err)

	_, err = MonthSlices(date(2023, time.February, 1), date(2023, time.January, 1), 1)
	assert.Error(t, err)
}

func TestSliceKey_RoundTripsRange(t *testing.T) {
	s := Slice{Start: date(2023, time.January, 1), End: date(2023, time.February, 1)}
	assert.Equal(t, "2023-01-01T00:00:00Z..2023-02-01T00:00:00Z", s.Key())
	assert.Equal(t, 31*24*time.Hour, s.Duration())
}
