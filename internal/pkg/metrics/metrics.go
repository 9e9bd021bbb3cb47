package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenActivations counts activation attempts by result reason ("ok" on success).
	TokenActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "motorlist",
		Subsystem: "token",
		Name:      "activations_total",
		Help:      "Listing token activation attempts by result.",
	}, []string{"result"})

	// TokenDeactivations counts successful deactivations by reason.
	TokenDeactivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "motorlist",
		Subsystem: "token",
		Name:      "deactivations_total",
		Help:      "Listing token deactivations by reason.",
	}, []string{"reason"})

	// PlanPurchases counts applied plan purchases by kind.
	PlanPurchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "motorlist",
		Subsystem: "plan",
		Name:      "purchases_total",
		Help:      "Applied plan purchases by kind (new, upgrade, renewal).",
	}, []string{"kind"})

	// SweepAccounts counts accounts visited by the expiry sweep by outcome.
	SweepAccounts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "motorlist",
		Subsystem: "sweep",
		Name:      "accounts_total",
		Help:      "Accounts processed by the plan expiry sweep by outcome.",
	}, []string{"outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "motorlist",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Plan expiry sweep duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
)
