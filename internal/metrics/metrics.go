package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TeardownFailures counts environment teardowns that failed; the DB side
	// of the delete proceeds anyway, so this is the alerting signal for
	// leaked namespaces.
	TeardownFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_director_teardown_failures_total",
		Help: "Number of failed cluster environment teardowns.",
	})

	// ResultsCollected counts result messages persisted by the collector.
	ResultsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_director_results_collected_total",
		Help: "Number of result messages persisted.",
	})

	// ResultFailures counts result messages that could not be persisted and
	// were handed back to the broker.
	ResultFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_director_result_failures_total",
		Help: "Number of result messages rejected back to the broker.",
	})

	// OrphansReaped counts namespaces removed by the reconciliation sweep.
	OrphansReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_director_orphans_reaped_total",
		Help: "Number of orphaned project environments torn down by the sweep.",
	})
)
