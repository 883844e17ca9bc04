package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the challenge service.
type Metrics struct {
	Joins          *prometheus.CounterVec
	Submissions    *prometheus.CounterVec
	Generations    *prometheus.CounterVec
	Normalizations *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
}

// New registers collectors on reg. Pass prometheus.NewRegistry() in tests to
// keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Joins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factcheck",
				Name:      "joins_total",
				Help:      "Join attempts by outcome",
			},
			[]string{"outcome"},
		),
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factcheck",
				Name:      "submissions_total",
				Help:      "Submit attempts by outcome",
			},
			[]string{"outcome"},
		),
		Generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factcheck",
				Name:      "generations_total",
				Help:      "Item generations by result (ok, fallback)",
			},
			[]string{"result"},
		),
		Normalizations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factcheck",
				Name:      "normalizations_total",
				Help:      "Content normalizations by source kind and result",
			},
			[]string{"source", "result"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factcheck",
				Name:      "cache_lookups_total",
				Help:      "Read cache lookups by view and result (hit, miss)",
			},
			[]string{"view", "result"},
		),
	}
}

// Discard returns collectors registered on a throwaway registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
