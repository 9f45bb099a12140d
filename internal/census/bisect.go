package census

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Search interface limits imposed by the platform.
const (
	// SearchCap is the hard ceiling on results the search interface will
	// return for a single query. Ranges whose count reaches it must be
	// split, or results are silently truncated.
	SearchCap = 1000

	// MinGranularity is the smallest range the bisector will probe. A
	// range at this size that still meets the cap is accepted as-is with
	// an undercount warning, since splitting cannot reduce per-day density.
	MinGranularity = 24 * time.Hour
)

// Counter probes how many results match a query restricted to [start, end).
// Implementations issue a count-only request; they never fetch items.
type Counter interface {
	Count(ctx context.Context, start, end time.Time) (int, error)
}

// RangeError reports a collaborator failure scoped to one sub-range, so the
// caller can retry just that range instead of abandoning the whole window.
type RangeError struct {
	Range Slice
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %s: %v", e.Range.Key(), e.Err)
}

func (e *RangeError) Unwrap() error { return e.Err }

// Bisector splits date ranges until every accepted slice's result count is
// under the cap or the range has reached minimum granularity.
type Bisector struct {
	Cap int           // result cap; defaults to SearchCap
	Min time.Duration // minimum range size; defaults to MinGranularity
}

func (b *Bisector) cap() int {
	if b.Cap > 0 {
		return b.Cap
	}
	return SearchCap
}

func (b *Bisector) min() time.Duration {
	if b.Min > 0 {
		return b.Min
	}
	return MinGranularity
}

// Bisect returns accepted slices that exactly tile [s.Start, s.End),
// regardless of how many times the range was halved. Each accepted slice
// either had a count strictly below the cap, or is at minimum granularity
// and carries Undercounted. The halving point is the temporal midpoint,
// never item-count based, so coverage holds even under skewed density.
func (b *Bisector) Bisect(ctx context.Context, counter Counter, s Slice) ([]Slice, error) {
	total, err := counter.Count(ctx, s.Start, s.End)
	if err != nil {
		return nil, &RangeError{Range: s, Err: err}
	}

	if total < b.cap() {
		return []Slice{s}, nil
	}

	if s.Duration() <= b.min() {
		slog.Warn("range at minimum granularity still meets the search cap; results may be undercounted",
			"range", s.Key(), "count", total, "cap", b.cap())
		undercountedSlices.Inc()
		s.Undercounted = true
		return []Slice{s}, nil
	}

	mid := s.Start.Add(s.Duration() / 2)
	bisectorSplits.Inc()

	left, err := b.Bisect(ctx, counter, Slice{Start: s.Start, End: mid})
	if err != nil {
		return nil, err
	}
	right, err := b.Bisect(ctx, counter, Slice{Start: mid, End: s.End})
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}
