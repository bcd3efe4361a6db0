package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runDuration measures engine runs, including time spent committing.
	// Labels: outcome (committed, stale, error, timeout)
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "slabquote",
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Layout optimisation run duration in seconds",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	// scheduleCalls counts Schedule calls.
	// Labels: action (armed, coalesced)
	scheduleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slabquote",
		Subsystem: "scheduler",
		Name:      "schedule_calls_total",
		Help:      "Schedule calls by whether they armed a timer or joined a pending one",
	}, []string{"action"})

	// staleWrites counts commits rejected by the sequence guard.
	staleWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "slabquote",
		Subsystem: "scheduler",
		Name:      "stale_writes_total",
		Help:      "Results discarded because a newer sequence was already committed",
	})

	// slabsUsed tracks slab counts of committed layouts.
	slabsUsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "slabquote",
		Subsystem: "scheduler",
		Name:      "slabs_used",
		Help:      "Slabs used by committed layouts",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
	})

	// inFlight is the number of runs currently executing.
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "slabquote",
		Subsystem: "scheduler",
		Name:      "runs_in_flight",
		Help:      "Optimisation runs currently executing",
	})
)

// Run outcomes.
const (
	outcomeCommitted = "committed"
	outcomeStale     = "stale"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
)

// RecordRun records one finished run.
func RecordRun(outcome string, durationSec float64) {
	runDuration.WithLabelValues(outcome).Observe(durationSec)
}

// RecordSchedule records a Schedule call.
func RecordSchedule(armed bool) {
	action := "coalesced"
	if armed {
		action = "armed"
	}
	scheduleCalls.WithLabelValues(action).Inc()
}

// RecordStaleWrite records a commit rejected by the sequence guard.
func RecordStaleWrite() {
	staleWrites.Inc()
}

// RecordSlabsUsed records the slab count of a committed layout.
func RecordSlabsUsed(n int) {
	slabsUsed.Observe(float64(n))
}
