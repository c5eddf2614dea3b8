package fdshare

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for opensTotal.
const (
	outcomeOK     = "ok"
	outcomeFailed = "open_failed"
	outcomeBroken = "broken"
)

var (
	opensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fdshare_opens_total",
			Help: "Open calls by outcome (ok, open_failed, broken)",
		},
		[]string{"outcome"},
	)

	factoriesBrokenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fdshare_factories_broken_total",
			Help: "Factories that transitioned to the broken state",
		},
	)

	discardedDescriptorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fdshare_discarded_descriptors_total",
			Help: "Descriptors received from the helper but closed because no caller was waiting",
		},
	)
)

// RegisterMetrics registers the library's collectors with reg. Metrics are
// updated whether or not they are registered; callers that want them
// exported pass prometheus.DefaultRegisterer (or their own registry, which
// is also what tests do).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		opensTotal,
		factoriesBrokenTotal,
		discardedDescriptorsTotal,
	)
}
