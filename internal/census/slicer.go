package census

import (
	"fmt"
	"time"
)

// Slice is a half-open date interval [Start, End).
type Slice struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Undercounted is set when the slice reached minimum granularity with
	// its result count still at or above the search cap. Results inside it
	// may be truncated by the platform.
	Undercounted bool `json:"undercounted,omitempty"`
}

// Key returns the stable identifier of the interval, used for checkpointing.
func (s Slice) Key() string {
	return fmt.Sprintf("%s..%s", s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339))
}

// Duration returns the elapsed time covered by the slice.
func (s Slice) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// MonthSlices splits [since, until) into contiguous slices of the given
// month granularity. The slices exactly tile the window: no overlap, no
// gaps, and the final slice is clamped to until when a full step would
// overshoot. Returns an error for an empty or inverted window.
func MonthSlices(since, until time.Time, months int) ([]Slice, error) {
	if months <= 0 {
		return nil, fmt.Errorf("slice granularity must be positive, got %d months", months)
	}
	if !since.Before(until) {
		return nil, fmt.Errorf("window is empty: since %s is not before until %s",
			since.Format(time.RFC3339), until.Format(time.RFC3339))
	}

	var out []Slice
	for i := 0; ; i++ {
		// Step from the window origin each time instead of accumulating,
		// so month arithmetic stays deterministic across slice counts.
		start := since.AddDate(0, i*months, 0)
		if !start.Before(until) {
			break
		}
		end := since.AddDate(0, (i+1)*months, 0)
		if end.After(until) {
			end = until
		}
		out = append(out, Slice{Start: start, End: end})
	}
	return out, nil
}
