package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arena",
		Name:      "queue_size",
		Help:      "Participants currently waiting in the matchmaking queue.",
	})

	MatchesFormed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "matches_formed_total",
		Help:      "Matches created by the pairing engine.",
	})

	MatchesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "matches_resolved_total",
		Help:      "Matches that reached a resolution decision.",
	}, []string{"outcome"})

	MatchesAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "matches_abandoned_total",
		Help:      "Matches torn down because a participant disconnected.",
	})

	MatchesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "matches_expired_total",
		Help:      "Matches reclaimed because no room id arrived in time.",
	})
)
