// Package metrics holds the Prometheus instrumentation for the device
// session registry. Counters are registered on the default registry and
// exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginsEvaluated counts conflict-resolution decisions by outcome
	// ("admit" or "conflict").
	LoginsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicegate",
		Name:      "logins_evaluated_total",
		Help:      "Login evaluations by decision outcome.",
	}, []string{"outcome"})

	// DevicesRegistered counts successful session registrations (new and upsert).
	DevicesRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devicegate",
		Name:      "devices_registered_total",
		Help:      "Successful device session registrations.",
	})

	// RegistrationsBlocked counts registrations rejected by the device cap.
	RegistrationsBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devicegate",
		Name:      "registrations_blocked_total",
		Help:      "Registrations rejected because the device cap was reached.",
	})

	// DevicesEvicted counts session removals by reason ("conflict" or "self").
	DevicesEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicegate",
		Name:      "devices_evicted_total",
		Help:      "Device session removals by reason.",
	}, []string{"reason"})

	// Heartbeats counts liveness checks by result ("alive" or "evicted").
	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicegate",
		Name:      "heartbeats_total",
		Help:      "Heartbeat results reported to devices.",
	}, []string{"result"})
)
