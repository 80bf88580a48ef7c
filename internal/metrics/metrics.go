// Package metrics holds the Prometheus collectors of the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reactions counts graph and file-lifecycle reactions by kind.
	Reactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_reactions_total",
		Help: "Total number of graph and file lifecycle reactions run",
	}, []string{"kind"})

	// ReactionFailures counts reactions that hit an error and were skipped.
	ReactionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_reaction_failures_total",
		Help: "Total number of reactions that failed and left their unit unchanged",
	}, []string{"kind"})

	// PropertyWrites counts documents rewritten because a canvas property changed.
	PropertyWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_property_writes_total",
		Help: "Total number of canvas property changes written to documents",
	}, []string{"op"})

	// EdgesCreated counts edges synthesised by the bulk linker.
	EdgesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_edges_created_total",
		Help: "Total number of edges created from the link index",
	})

	// EdgesRerouted counts edges whose attachment sides were corrected.
	EdgesRerouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_edges_rerouted_total",
		Help: "Total number of edges whose sides were re-routed",
	})

	// PendingReconciles tracks debounced edge reconciliations waiting to run.
	PendingReconciles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tether_pending_reconciles",
		Help: "Number of debounced edge reconciliations currently scheduled",
	})
)

// Observe records one reaction of the given kind and whether it failed.
func Observe(kind string, err error) {
	Reactions.WithLabelValues(kind).Inc()
	if err != nil {
		ReactionFailures.WithLabelValues(kind).Inc()
	}
}
