package census

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters, exposed on the report server's /metrics endpoint.
var (
	bisectorSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_bisector_splits_total",
		Help: "Date ranges halved because their result count met the search cap.",
	})

	undercountedSlices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_undercounted_slices_total",
		Help: "Slices accepted at minimum granularity with the cap still met.",
	})

	slicesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_slices_completed_total",
		Help: "Slices fetched, aggregated and checkpointed.",
	})

	slicesResumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_slices_resumed_total",
		Help: "Slices skipped on restart because a checkpoint already covered them.",
	})
)
